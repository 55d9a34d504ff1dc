package main

import (
	"context"
	"os"
	"os/exec"

	"github.com/phuslu/log"

	"github.com/knights-analytics/claimnli"
	"github.com/knights-analytics/claimnli/util/fileutil"
)

// export or download the registered backbones for the ONNX integration tests.

func main() {
	ok, err := fileutil.FileExists("./models")
	if err != nil {
		log.Fatal().Err(err).Msg("checking ./models")
	}
	if ok {
		return
	}
	if err = os.MkdirAll("./models", os.ModePerm); err != nil {
		log.Fatal().Err(err).Msg("creating ./models")
	}
	for _, name := range claimnli.KnownBackbones() {
		backbone, err := claimnli.ResolveBackbone(name)
		if err != nil {
			log.Fatal().Err(err).Str("model", name).Msg("resolving backbone")
		}
		if backbone.NeedsExport {
			args := backbone.ExportArgs("./models")
			cmd := exec.Command(args[0], args[1:]...)
			cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
			if err = cmd.Run(); err != nil {
				log.Fatal().Err(err).Str("command", backbone.ExportCommand("./models")).Msg("exporting backbone, install optimum[exporters]")
			}
			continue
		}
		options := claimnli.NewDownloadOptions()
		options.OnnxFilePath = backbone.OnnxFilePath
		if _, err = claimnli.DownloadModel(context.Background(), backbone.Repo, "./models", options); err != nil {
			log.Fatal().Err(err).Str("model", name).Msg("downloading backbone")
		}
	}
}

package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vango-dev/assetpipe/internal/publish"
)

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Upload the destination directory to S3",
		Long: `Upload every file in the destination directory to an S3-compatible
bucket.

Settings come from the "publish" section of assetpipe.json, with
ASSETPIPE_PUBLISH_BUCKET overriding the bucket. Credentials are read
from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.

Examples:
  assetpipe build && assetpipe publish
  ASSETPIPE_PUBLISH_BUCKET=staging-assets assetpipe publish`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject()
			if err != nil {
				return err
			}
			defer p.Close()

			pub, err := publish.New(p.config, publish.Options{})
			if err != nil {
				return err
			}
			result, err := pub.Publish(cmd.Context())
			if result != nil {
				success("Uploaded %d objects (%s) in %s",
					len(result.Keys),
					humanize.Bytes(uint64(result.Bytes)),
					result.Duration.Round(time.Millisecond))
			}
			if err != nil {
				warn("Some uploads failed")
			}
			return err
		},
	}
}

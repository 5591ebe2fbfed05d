package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"blockfs"
	"blockfs/blockdev"
	"blockfs/layout"
)

func main() {
	app := cli.App{
		Usage: "Format a blockfs disk image",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create or wipe a blockfs image",
				Action:    formatImage,
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.Uint64Flag{
						Name:  "blocks",
						Usage: "total number of blocks in the image",
						Value: 65536,
					},
					&cli.UintFlag{
						Name:  "block-size",
						Usage: "bytes per block",
						Value: 1024,
					},
					&cli.Uint64Flag{
						Name:  "inodes",
						Usage: "total number of inodes",
						Value: layout.DefaultInodeCount,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func formatImage(context *cli.Context) error {
	path := context.Args().First()
	if path == "" {
		return cli.Exit("a path argument is required", 1)
	}

	blockSize := uint32(context.Uint("block-size"))
	blockCount := uint32(context.Uint64("blocks"))
	inodeCount := uint32(context.Uint64("inodes"))

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := file.Truncate(int64(blockSize) * int64(blockCount)); err != nil {
		return err
	}

	dev, err := blockdev.OpenFile(path, blockSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	if _, err := blockfs.Format(dev, inodeCount); err != nil {
		return err
	}

	log.Printf("formatted %s: %d blocks of %d bytes, %d inodes", path, blockCount, blockSize, inodeCount)
	return nil
}

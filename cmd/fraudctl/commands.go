package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"fraudscore/internal/client"
	"fraudscore/internal/common"
	"fraudscore/internal/dataset"
	"fraudscore/internal/features"
	"fraudscore/internal/pipeline"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var generateCmd = &cli.Command{
	Name:  "generate",
	Usage: "Writes a synthetic labeled transaction CSV",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "rows", Usage: "Number of transactions", Value: 10000},
		&cli.FloatFlag{Name: "fraud-rate", Usage: "Share of fraudulent rows", Value: 0.035},
		&cli.Uint64Flag{Name: "seed", Usage: "Generator seed", Value: common.DefaultSeed},
		&cli.StringFlag{Name: "out", Usage: "Output CSV path", Required: true},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		records, err := dataset.Synthetic(cmd.Int("rows"), cmd.Float("fraud-rate"), cmd.Uint64("seed"))
		if err != nil {
			return err
		}
		if err := dataset.SaveCSV(cmd.String("out"), records); err != nil {
			return err
		}
		log.Info().Int("rows", len(records)).Str("path", cmd.String("out")).Msg("Wrote synthetic transactions")
		return nil
	},
}

var fitCmd = &cli.Command{
	Name:  "fit",
	Usage: "Fits a model bundle from labeled CSV data and stores it",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "train", Usage: "Transaction CSV (defaults to TRAINING_CSV)"},
		&cli.StringFlag{Name: "identity", Usage: "Identity CSV joined on TransactionID (optional)"},
		&cli.IntFlag{Name: "trees", Usage: "Number of trees"},
		&cli.IntFlag{Name: "max-depth", Usage: "Maximum tree depth, 0 grows until pure"},
		&cli.Uint64Flag{Name: "seed", Usage: "Seed for the split and the ensemble"},
		&cli.FloatFlag{Name: "test-fraction", Usage: "Held-out share of rows"},
		&cli.BoolFlag{Name: "activate", Usage: "Make the new bundle the active one", Value: true},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		train := settings.TrainingCSV
		if cmd.IsSet("train") {
			train = cmd.String("train")
		}
		if train == "" {
			return errors.New(common.ErrMsgTrainingRequired)
		}
		identity := settings.IdentityCSV
		if cmd.IsSet("identity") {
			identity = cmd.String("identity")
		}

		pc := settings.PipelineConfig()
		if cmd.IsSet("trees") {
			pc.Model.NumTrees = cmd.Int("trees")
		}
		if cmd.IsSet("max-depth") {
			pc.Model.MaxDepth = cmd.Int("max-depth")
		}
		if cmd.IsSet("seed") {
			pc.Model.Seed = cmd.Uint64("seed")
		}
		if cmd.IsSet("test-fraction") {
			pc.TestFraction = cmd.Float("test-fraction")
		}

		records, err := dataset.LoadTransactions(train, identity)
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}

		a, err := pipeline.New(pc, nil).Fit(ctx, records)
		if err != nil {
			return err
		}
		if err := s.SaveArtifacts(a); err != nil {
			return err
		}
		if cmd.Bool("activate") {
			if err := s.SetActive(a.ID); err != nil {
				return err
			}
		}
		return encode(a.Info())
	},
}

var scoreCmd = &cli.Command{
	Name:  "score",
	Usage: "Scores one transaction against the active bundle",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "input", Usage: "JSON transaction file, - for stdin"},
		&cli.StringFlag{Name: "server", Usage: "Score through a running server at this URL instead of the local store"},
		&cli.FloatFlag{Name: "amount", Usage: "TransactionAmt"},
		&cli.StringFlag{Name: "product", Usage: "ProductCD"},
		&cli.IntFlag{Name: "card1", Usage: "card1"},
		&cli.StringFlag{Name: "card4", Usage: "card4"},
		&cli.IntFlag{Name: "addr1", Usage: "addr1"},
		&cli.FloatFlag{Name: "dist1", Usage: "dist1"},
		&cli.StringFlag{Name: "device", Usage: "DeviceType"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		tx, err := transactionFromFlags(cmd)
		if err != nil {
			return err
		}

		if url := cmd.String("server"); url != "" {
			res, err := client.New(url, settings.RequestTimeout).Score(ctx, tx)
			if err != nil {
				return err
			}
			return encode(res)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		a, err := s.LoadActive()
		if err != nil {
			return fmt.Errorf("%s: %w", common.ErrMsgNoModel, err)
		}
		res, err := pipeline.New(settings.PipelineConfig(), nil).Score(a, tx.Record())
		if err != nil {
			return err
		}
		return encode(res)
	},
}

// transactionFromFlags reads --input when given and lets field flags
// override it.
func transactionFromFlags(cmd *cli.Command) (features.Transaction, error) {
	var tx features.Transaction
	if in := cmd.String("input"); in != "" {
		var r io.Reader = os.Stdin
		if in != "-" {
			f, err := os.Open(in)
			if err != nil {
				return tx, err
			}
			defer f.Close()
			r = f
		}
		if err := json.NewDecoder(r).Decode(&tx); err != nil {
			return tx, fmt.Errorf("decoding transaction: %w", err)
		}
	}

	if cmd.IsSet("amount") {
		v := cmd.Float("amount")
		tx.TransactionAmt = &v
	}
	if cmd.IsSet("card1") {
		v := int64(cmd.Int("card1"))
		tx.Card1 = &v
	}
	if cmd.IsSet("addr1") {
		v := int64(cmd.Int("addr1"))
		tx.Addr1 = &v
	}
	if cmd.IsSet("dist1") {
		v := cmd.Float("dist1")
		tx.Dist1 = &v
	}
	if cmd.IsSet("product") {
		tx.ProductCD = cmd.String("product")
	}
	if cmd.IsSet("card4") {
		tx.Card4 = cmd.String("card4")
	}
	if cmd.IsSet("device") {
		tx.DeviceType = cmd.String("device")
	}
	return tx, nil
}

var modelsCmd = &cli.Command{
	Name:  "models",
	Usage: "Lists and manages stored model bundles",
	Commands: []*cli.Command{
		{
			Name:  "list",
			Usage: "Lists stored bundles, oldest first",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				s, err := openStore()
				if err != nil {
					return err
				}
				list, err := s.ListArtifacts()
				if err != nil {
					return err
				}
				return encode(list)
			},
		},
		{
			Name:      "show",
			Usage:     "Describes a bundle, the active one by default",
			ArgsUsage: "[id]",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				s, err := openStore()
				if err != nil {
					return err
				}
				var a *pipeline.Artifacts
				if id := cmd.Args().First(); id != "" {
					a, err = s.LoadArtifacts(id)
				} else {
					a, err = s.LoadActive()
				}
				if err != nil {
					return err
				}
				return encode(a.Info())
			},
		},
		{
			Name:      "delete",
			Usage:     "Deletes an inactive bundle",
			ArgsUsage: "<id>",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				id := cmd.Args().First()
				if id == "" {
					return errors.New("bundle id is required")
				}
				s, err := openStore()
				if err != nil {
					return err
				}
				return s.DeleteArtifacts(id)
			},
		},
	},
}

var auditCmd = &cli.Command{
	Name:  "audit",
	Usage: "Prints audited scores of a bundle",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "artifact", Usage: "Bundle id, the active one by default"},
		&cli.DurationFlag{Name: "since", Usage: "Look-back window", Value: 24 * time.Hour},
		&cli.BoolFlag{Name: "count", Usage: "Only print score counts per bundle"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		if cmd.Bool("count") {
			counts, err := s.CountScores()
			if err != nil {
				return err
			}
			return encode(counts)
		}

		id := cmd.String("artifact")
		if id == "" {
			if id, err = s.ActiveID(); err != nil {
				return err
			}
			if id == "" {
				return errors.New(common.ErrMsgNoModel)
			}
		}
		end := time.Now()
		records, err := s.GetScores(id, end.Add(-cmd.Duration("since")), end)
		if err != nil {
			return err
		}
		return encode(records)
	},
}

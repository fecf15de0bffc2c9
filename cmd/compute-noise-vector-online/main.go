// Command compute-noise-vector-online computes per-period online
// n-vectors for each utterance, using a serialized noise prior and
// per-frame target posteriors to drive silence/speech labeling.
//
// Grounded on
// original_source/src/ivectorbin/compute-noise-vector-online.cc.
// Unlike the original (which shares one OnlineNoiseVector instance,
// and therefore its running state, across every utterance in the
// archive), this tool constructs a fresh estimator per utterance: the
// estimator's documented contract (internal/nvector) is per-utterance
// state, and leaking it across utterances of different speakers would
// silently bias later ones toward earlier ones' noise estimates.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/example/go-noise-vector/internal/archive"
	"github.com/example/go-noise-vector/internal/linalg"
	"github.com/example/go-noise-vector/internal/noiseprior"
	"github.com/example/go-noise-vector/internal/nvector"
	"github.com/spf13/cobra"
)

var errNoneProcessed = errors.New("compute-noise-vector-online: no utterances processed")

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		if errors.Is(err, errNoneProcessed) {
			return 1
		}

		return -1
	}

	return 0
}

func newRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "compute-noise-vector-online <feats-rspec> <targets-rspec> <prior-file> <period> <mat-wspec>",
		Short: "Compute per-period online n-vectors for each utterance from a noise prior",
		Args:  cobra.ExactArgs(5),
		RunE: func(_ *cobra.Command, args []string) error {
			setupLogger(logLevel)

			period, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid period %q: %w", args[3], err)
			}

			return runOnline(args[0], args[1], args[2], period, args[4])
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")

	return cmd
}

func setupLogger(levelStr string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(levelStr)); err != nil {
		lvl = slog.LevelInfo
	}

	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func loadPrior(path string) (*noiseprior.Prior, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prior file %s: %w", path, err)
	}

	if p, err := noiseprior.ReadBinary(bytes.NewReader(data)); err == nil {
		return p, nil
	}

	p, err := noiseprior.ReadText(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing prior file %s as binary or text: %w", path, err)
	}

	return p, nil
}

// classifySilence mirrors the original's per-frame rule: silent when
// the noise (column 0) or garbage (column 2) posterior strictly exceeds
// the speech posterior (column 1); a tie with speech counts as speech.
func classifySilence(target *linalg.Matrix) []bool {
	rows, _ := target.Dims()
	labels := make([]bool, rows)

	for i := range rows {
		labels[i] = target.At(i, 0) > target.At(i, 1) || target.At(i, 2) > target.At(i, 1)
	}

	return labels
}

func runOnline(featsRspec, targetsRspec, priorPath string, period int, matWspec string) error {
	prior, err := loadPrior(priorPath)
	if err != nil {
		return err
	}

	featReader, err := archive.OpenSequentialMatrixReader(featsRspec)
	if err != nil {
		return err
	}
	defer featReader.Close()

	targetReader, err := archive.OpenRandomAccessMatrixReader(targetsRspec)
	if err != nil {
		return err
	}

	matWriter, err := archive.OpenMatrixWriter(matWspec)
	if err != nil {
		return err
	}
	defer matWriter.Close()

	var numDone, numErr int

	for !featReader.Done() {
		utt := featReader.Key()
		feat := featReader.Value()

		rows, _ := feat.Dims()
		if rows == 0 {
			slog.Warn("empty feature matrix", "utterance", utt)
			numErr++
			featReader.Next()

			continue
		}

		est, err := nvector.New(prior, period)
		if err != nil {
			return err
		}

		var labels []bool

		switch {
		case !targetReader.HasKey(utt):
			slog.Warn("no target found for utterance, using prior estimate", "utterance", utt)
			numErr++
		default:
			target, err := targetReader.Value(utt)
			if err != nil {
				return err
			}

			targetRows, _ := target.Dims()
			if targetRows != rows {
				slog.Warn("frame count mismatch, using prior estimate",
					"utterance", utt, "feat_frames", rows, "target_frames", targetRows)
				numErr++
			} else {
				labels = classifySilence(target)
			}
		}

		noiseVectors, err := est.Extract(feat, labels)
		if err != nil {
			return err
		}

		if err := matWriter.Write(utt, noiseVectors); err != nil {
			return err
		}

		numDone++
		featReader.Next()
	}

	if featReader.Err() != nil {
		return featReader.Err()
	}

	slog.Info("done computing online noise vectors", "processed", numDone, "errors", numErr)

	if numDone == 0 {
		return errNoneProcessed
	}

	return nil
}

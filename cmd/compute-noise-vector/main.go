// Command compute-noise-vector computes one offline average noise
// (and optionally speech) vector per utterance from a feature archive
// and a per-frame target-posterior archive.
//
// Grounded on original_source/src/featbin/compute-noise-vector.cc.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/example/go-noise-vector/internal/archive"
	"github.com/example/go-noise-vector/internal/batchnvector"
	"github.com/spf13/cobra"
)

// errNoneProcessed signals that zero utterances were written, mapped
// to exit code 1 (matching the original's "num_done != 0 ? 0 : 1").
var errNoneProcessed = errors.New("compute-noise-vector: no utterances processed")

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
	var (
		concatSpeechVector bool
		logLevel           string
	)

	cmd := &cobra.Command{
		Use:   "compute-noise-vector <feats-rspec> <targets-rspec> <vec-wspec>",
		Short: "Compute per-utterance average noise (and optional speech) vectors",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			setupLogger(logLevel)
			return runCompute(args[0], args[1], args[2], concatSpeechVector)
		},
	}

	cmd.Flags().BoolVar(&concatSpeechVector, "concat-speech-vector", false,
		"Compute a speech vector from speech frames and concatenate it with the noise vector")
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

func runCompute(featsRspec, targetsRspec, vecWspec string, concatSpeechVector bool) error {
	featReader, err := archive.OpenSequentialMatrixReader(featsRspec)
	if err != nil {
		return err
	}
	defer featReader.Close()

	targetReader, err := archive.OpenRandomAccessMatrixReader(targetsRspec)
	if err != nil {
		return err
	}

	vecWriter, err := archive.OpenVectorWriter(vecWspec)
	if err != nil {
		return err
	}
	defer vecWriter.Close()

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

		if !targetReader.HasKey(utt) {
			slog.Warn("no target found for utterance", "utterance", utt)
			numErr++
			featReader.Next()

			continue
		}

		target, err := targetReader.Value(utt)
		if err != nil {
			return err
		}

		targetRows, _ := target.Dims()
		if targetRows != rows {
			slog.Warn("frame count mismatch", "utterance", utt, "feat_frames", rows, "target_frames", targetRows)
			numErr++
			featReader.Next()

			continue
		}

		vec, err := batchnvector.ComputeUtterance(feat, target, concatSpeechVector)
		if err != nil {
			return err
		}

		if err := vecWriter.Write(utt, vec); err != nil {
			return err
		}

		numDone++
		featReader.Next()
	}

	if featReader.Err() != nil {
		return featReader.Err()
	}

	slog.Info("done computing average noise frames", "processed", numDone, "errors", numErr)

	if numDone == 0 {
		return errNoneProcessed
	}

	return nil
}

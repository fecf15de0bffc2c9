// Package silence turns a decoder's partial traceback into per-frame
// silence/speech decisions, used to weight the online n-vector
// estimator's sufficient statistics.
//
// Grounded on original_source/src/online2/online-nvector-feature.{h,cc}
// (OnlineSilenceDetection::DecodeNextChunk/GetSilenceDecisions).
package silence

import (
	"errors"
	"fmt"
)

// ErrPreconditionViolation is returned when the caller feeds a
// non-monotonic or otherwise invalid argument sequence, mirroring the
// KALDI_ASSERTs in the original traceback walk.
var ErrPreconditionViolation = errors.New("silence: precondition violation")

// noTransition is the sentinel meaning "no decoder traceback yet for
// this frame", matching the original's transition_id == -1.
const noTransition = -1

// BestPathIterator is an opaque position in a decoder's best-path
// traceback. Token identifies a decoder token for the purposes of
// detecting "we've already traced back this far"; it must compare
// equal (==) for the same underlying token and never for different
// ones. Frame follows the decoder's convention of being one less than
// the frame whose incoming arc it names.
type BestPathIterator struct {
	Frame int
	Token any
}

// Decoder is the subset of a traceback-capable decoder's interface
// this package needs. Implementations typically wrap a Viterbi/lattice
// decoder's best-path state.
type Decoder interface {
	// NumFramesDecoded returns the number of frames decoded so far.
	NumFramesDecoded() int
	// BestPathEnd returns an iterator positioned at the end of the
	// current best path.
	BestPathEnd() BestPathIterator
	// TraceBackBestPath advances iter one arc back along the best
	// path, skipping input-epsilons internally, and returns the new
	// iterator along with the transition-id of the non-epsilon arc
	// that was traversed.
	TraceBackBestPath(iter BestPathIterator) (BestPathIterator, int)
}

// TransitionModel maps a transition-id to the phone it belongs to.
type TransitionModel interface {
	TransitionIDToPhone(transitionID int) int
}

// FrameDecision is one (input-feature-frame, is-silence) pair; the
// Silence values of consecutive frames make up the per-frame labels
// slice that nvector's UpdateChunk takes.
type FrameDecision struct {
	InputFrame int
	Silence    bool
}

type frameInfo struct {
	token           any
	transitionID    int
	silenceDecision bool
}

// Extractor accumulates decoder traceback information across calls to
// DecodeNextChunk and turns it into silence decisions via
// GetSilenceDecisions. A fresh Extractor should be created per
// utterance.
type Extractor struct {
	transModel             TransitionModel
	silencePhones          map[int]bool
	frameSubsamplingFactor int
	maxStateDuration       int

	frameInfo []frameInfo
}

// NewExtractor builds an Extractor. silencePhones is the set of phone
// ids treated as silence. frameSubsamplingFactor accounts for decoders
// whose frame rate differs from the input feature rate (e.g. chain
// models); pass 1 when they match. maxStateDuration <= 0 disables the
// "long same-state run counts as silence" override.
func NewExtractor(transModel TransitionModel, silencePhones map[int]bool, frameSubsamplingFactor, maxStateDuration int) (*Extractor, error) {
	if frameSubsamplingFactor < 1 {
		return nil, fmt.Errorf("silence: frame-subsampling-factor must be >= 1, got %d", frameSubsamplingFactor)
	}

	return &Extractor{
		transModel:             transModel,
		silencePhones:          silencePhones,
		frameSubsamplingFactor: frameSubsamplingFactor,
		maxStateDuration:       maxStateDuration,
	}, nil
}

// Active reports whether this extractor has a non-empty silence-phone
// set configured.
func (e *Extractor) Active() bool { return len(e.silencePhones) > 0 }

// DecodeNextChunk records traceback information from decoder, walking
// backward from its current best-path end and short-circuiting as
// soon as it reaches a frame whose token it has already recorded
// (tokens, once allocated for a frame, are never reused for that
// frame, so token equality proves the traceback below it is
// unchanged).
func (e *Extractor) DecodeNextChunk(decoder Decoder) error {
	numFramesDecoded := decoder.NumFramesDecoded()
	numFramesPrev := len(e.frameInfo)

	if numFramesDecoded != numFramesPrev {
		return fmt.Errorf("%w: decoder has %d frames decoded, extractor tracked %d (decode chunks must be consumed in order)",
			ErrPreconditionViolation, numFramesDecoded, numFramesPrev)
	}

	if numFramesDecoded == 0 {
		return nil
	}

	frame := numFramesDecoded - 1
	iter := decoder.BestPathEnd()

	for frame >= 0 {
		transitionID := 0

		for transitionID == 0 {
			var next BestPathIterator
			next, transitionID = decoder.TraceBackBestPath(iter)
			iter = next
		}

		if iter.Frame != frame-1 {
			return fmt.Errorf("%w: traceback iterator landed on frame %d, expected %d", ErrPreconditionViolation, iter.Frame, frame-1)
		}

		if e.frameInfo[frame].token == iter.Token {
			break
		}

		e.frameInfo[frame].token = iter.Token
		e.frameInfo[frame].transitionID = transitionID
		frame--
	}

	return nil
}

// GetSilenceDecisions emits one (input_frame, silence) pair per input
// feature frame newly covered since the last call, at the decoder's
// frame-subsampling-factor granularity expanded back out to feature
// frames. numFramesReady is the number of feature frames available at
// the n-vector pipeline's input; firstDecoderFrame is the pipeline
// frame offset where the decoder was last (re)started (0 for
// single-utterance decoding).
func (e *Extractor) GetSilenceDecisions(numFramesReady, firstDecoderFrame int) ([]FrameDecision, error) {
	if numFramesReady != 0 && numFramesReady <= firstDecoderFrame {
		return nil, fmt.Errorf("%w: num_frames_ready (%d) must exceed first_decoder_frame (%d) unless both are zero",
			ErrPreconditionViolation, numFramesReady, firstDecoderFrame)
	}

	fs := e.frameSubsamplingFactor
	numDecoderFramesReady := (numFramesReady - firstDecoderFrame + fs - 1) / fs

	prevFramesProcessed := len(e.frameInfo)
	if numDecoderFramesReady > len(e.frameInfo) {
		grown := make([]frameInfo, numDecoderFramesReady)
		copy(grown, e.frameInfo)

		for i := prevFramesProcessed; i < numDecoderFramesReady; i++ {
			grown[i] = frameInfo{token: nil, transitionID: noTransition, silenceDecision: true}
		}

		e.frameInfo = grown
	}

	beginFrame := prevFramesProcessed
	framesOut := len(e.frameInfo) - beginFrame

	if framesOut <= 0 {
		return nil, nil
	}

	decisions := classifyRange(e.frameInfo, beginFrame, framesOut, e.transModel, e.silencePhones, e.maxStateDuration)

	out := make([]FrameDecision, 0, framesOut*fs)

	for offset := range framesOut {
		frame := beginFrame + offset
		e.frameInfo[frame].silenceDecision = decisions[offset]

		for i := range fs {
			inputFrame := firstDecoderFrame + frame*fs + i
			out = append(out, FrameDecision{InputFrame: inputFrame, Silence: decisions[offset]})
		}
	}

	return out, nil
}

// classifyRange computes the silence/speech decision for each of the
// framesOut decoder frames starting at beginFrame, given the decoder
// traceback recorded so far in frameInfo. If the first frame in range
// has no traceback yet, the whole range duplicates the most recent
// committed decision (or defaults to silence at the very start of the
// utterance). Otherwise each frame is classified by its transition's
// phone, with runs of the same transition-id lasting at least
// maxStateDuration frames forced to silence regardless of phone.
func classifyRange(frameInfo []frameInfo, beginFrame, framesOut int, transModel TransitionModel, silencePhones map[int]bool, maxStateDuration int) []bool {
	decisions := make([]bool, framesOut)

	if frameInfo[beginFrame].transitionID == noTransition {
		decision := true
		if beginFrame > 0 {
			decision = frameInfo[beginFrame-1].silenceDecision
		}

		for offset := range framesOut {
			decisions[offset] = decision
		}

		return decisions
	}

	runStart := 0

	for offset := range framesOut {
		frame := beginFrame + offset
		transitionID := frameInfo[frame].transitionID

		if transitionID == noTransition {
			if offset > 0 {
				decisions[offset] = decisions[offset-1]
			}

			continue
		}

		phone := transModel.TransitionIDToPhone(transitionID)
		if silencePhones[phone] {
			decisions[offset] = true
		}

		lastOfRun := offset+1 == framesOut || transitionID != frameInfo[frame+1].transitionID
		if maxStateDuration > 0 && lastOfRun {
			runLength := offset - runStart + 1
			if runLength >= maxStateDuration {
				for o := runStart; o <= offset; o++ {
					decisions[o] = true
				}
			}

			if offset+1 < framesOut {
				runStart = offset + 1
			}
		}
	}

	return decisions
}

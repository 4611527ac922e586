package cognition

import (
	"context"
	"strings"
)

// Score is a valence/arousal/dominance sentiment estimate, each axis in
// [-1, 1]. Confidence reflects lexicon coverage of the input.
type Score struct {
	Valence    float64 `json:"valence"`
	Arousal    float64 `json:"arousal"`
	Dominance  float64 `json:"dominance"`
	Confidence float64 `json:"confidence"`
}

// Tone is the reply register derived from a sentiment score.
type Tone string

const (
	ToneEmpathetic  Tone = "empathetic"
	ToneStepByStep  Tone = "step_by_step"
	ToneCelebratory Tone = "celebratory"
	ToneNeutral     Tone = "neutral"
)

// Classifier asks the model router for a structured sentiment estimate
// when the lexicon pass is unsure or the text is long.
type Classifier interface {
	ClassifySentiment(ctx context.Context, text string) (Score, error)
}

// vad maps lexicon words to {valence, arousal, dominance}.
var vad = map[string][3]float64{
	"happy":       {0.8, 0.5, 0.4},
	"glad":        {0.7, 0.3, 0.3},
	"great":       {0.8, 0.4, 0.4},
	"excellent":   {0.9, 0.4, 0.4},
	"awesome":     {0.9, 0.7, 0.5},
	"love":        {0.9, 0.6, 0.3},
	"excited":     {0.7, 0.9, 0.4},
	"thrilled":    {0.9, 0.9, 0.4},
	"proud":       {0.8, 0.5, 0.6},
	"finished":    {0.6, 0.3, 0.5},
	"shipped":     {0.7, 0.5, 0.6},
	"solved":      {0.7, 0.4, 0.6},
	"works":       {0.6, 0.2, 0.4},
	"thanks":      {0.6, 0.2, 0.2},
	"sad":         {-0.7, -0.2, -0.4},
	"upset":       {-0.6, 0.4, -0.3},
	"angry":       {-0.7, 0.8, 0.2},
	"furious":     {-0.8, 0.9, 0.3},
	"frustrated":  {-0.6, 0.6, -0.3},
	"annoyed":     {-0.5, 0.5, -0.1},
	"worried":     {-0.5, 0.5, -0.4},
	"anxious":     {-0.5, 0.7, -0.5},
	"afraid":      {-0.6, 0.6, -0.6},
	"scared":      {-0.6, 0.7, -0.6},
	"confused":    {-0.3, 0.2, -0.5},
	"lost":        {-0.4, 0.2, -0.6},
	"stuck":       {-0.4, 0.3, -0.5},
	"overwhelmed": {-0.5, 0.6, -0.7},
	"tired":       {-0.4, -0.6, -0.3},
	"exhausted":   {-0.5, -0.5, -0.4},
	"broken":      {-0.5, 0.3, -0.3},
	"failed":      {-0.6, 0.3, -0.4},
	"failing":     {-0.6, 0.4, -0.4},
	"error":       {-0.3, 0.2, -0.2},
	"crash":       {-0.5, 0.5, -0.3},
	"terrible":    {-0.8, 0.5, -0.3},
	"awful":       {-0.8, 0.5, -0.3},
	"hate":        {-0.8, 0.7, 0.1},
	"calm":        {0.4, -0.6, 0.3},
	"fine":        {0.3, -0.2, 0.2},
	"okay":        {0.2, -0.1, 0.1},
	"ready":       {0.4, 0.2, 0.5},
	"sure":        {0.3, 0.0, 0.4},
	"help":        {0.0, 0.2, -0.3},
	"urgent":      {-0.2, 0.8, 0.0},
	"deadline":    {-0.2, 0.6, -0.1},
	"celebrate":   {0.9, 0.8, 0.5},
	"won":         {0.8, 0.7, 0.6},
	"done":        {0.5, 0.2, 0.5},
}

// negators flip the valence of the following lexicon word.
var negators = map[string]bool{
	"not": true, "no": true, "never": true, "nothing": true,
	"isnt": true, "dont": true, "cant": true, "wont": true, "didnt": true,
}

const (
	// longTextThreshold is the length past which the lexicon defers to
	// the model classifier.
	longTextThreshold = 400

	// minLexiconConfidence triggers the classifier when coverage is poor.
	minLexiconConfidence = 0.3
)

// Analyzer blends the cheap lexicon pass with an optional model-backed
// classifier.
type Analyzer struct {
	classifier Classifier
}

// NewAnalyzer builds an analyzer. A nil classifier keeps everything on
// the lexicon.
func NewAnalyzer(classifier Classifier) *Analyzer {
	return &Analyzer{classifier: classifier}
}

// Analyze scores the text. The classifier is consulted for long inputs
// or when lexicon coverage is weak, and the two estimates are averaged.
// Classifier failures fall back to the lexicon score alone.
func (a *Analyzer) Analyze(ctx context.Context, text string) Score {
	lex := lexiconScore(text)
	if a.classifier == nil {
		return lex
	}
	if len(text) <= longTextThreshold && lex.Confidence >= minLexiconConfidence {
		return lex
	}

	model, err := a.classifier.ClassifySentiment(ctx, text)
	if err != nil {
		return lex
	}
	return Score{
		Valence:    (lex.Valence + model.Valence) / 2,
		Arousal:    (lex.Arousal + model.Arousal) / 2,
		Dominance:  (lex.Dominance + model.Dominance) / 2,
		Confidence: maxFloat(lex.Confidence, model.Confidence),
	}
}

// lexiconScore averages VAD values over lexicon hits, flipping valence
// after a negator.
func lexiconScore(text string) Score {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})

	var v, ar, d float64
	hits := 0
	negate := false
	for _, w := range words {
		if negators[w] {
			negate = true
			continue
		}
		entry, ok := vad[w]
		if !ok {
			negate = false
			continue
		}
		val := entry[0]
		if negate {
			val = -val
			negate = false
		}
		v += val
		ar += entry[1]
		d += entry[2]
		hits++
	}
	if hits == 0 || len(words) == 0 {
		return Score{}
	}

	conf := float64(hits) / float64(len(words)) * 4
	if conf > 1 {
		conf = 1
	}
	return Score{
		Valence:    v / float64(hits),
		Arousal:    ar / float64(hits),
		Dominance:  d / float64(hits),
		Confidence: conf,
	}
}

// ToneFor maps a score to the reply register. Negative valence reads as
// distress; low dominance reads as the user wanting guidance.
func ToneFor(s Score) Tone {
	switch {
	case s.Valence <= -0.25:
		return ToneEmpathetic
	case s.Valence >= 0.4 && s.Arousal >= 0.25:
		return ToneCelebratory
	case s.Dominance <= -0.2:
		return ToneStepByStep
	default:
		return ToneNeutral
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

package entities

import "sync"

const (
	// SmoothingWeight is the weight of the newest raw score in the moving average.
	SmoothingWeight = 0.7

	// DistressEmotion names the channel used for break suggestions.
	DistressEmotion = "Distress"

	// DistressThreshold is the smoothed distress score above which an alert is raised.
	DistressThreshold = 0.5
)

// EmotionScore is one inferred emotion of a frame
type EmotionScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// EmotionFrame is one inference result received from the emotion service
type EmotionFrame struct {
	Emotions        []EmotionScore `json:"emotions"`
	FaceDetected    bool           `json:"face_detected"`
	FaceProbability *float64       `json:"face_probability,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// SmoothedEmotionState keeps an exponential moving average per emotion name.
//
// The first observation of a name initializes the filter with the raw value.
// Names absent from a frame keep their previous value.
type SmoothedEmotionState struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewSmoothedEmotionState creates an empty state
func NewSmoothedEmotionState() *SmoothedEmotionState {
	return &SmoothedEmotionState{scores: make(map[string]float64)}
}

// Apply folds a frame into the state and returns the smoothed scores of the
// frame's emotions, in frame order.
func (s *SmoothedEmotionState) Apply(frame EmotionFrame) []EmotionScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	smoothed := make([]EmotionScore, 0, len(frame.Emotions))
	for _, e := range frame.Emotions {
		value := clamp01(e.Score)
		if prev, ok := s.scores[e.Name]; ok {
			value = SmoothingWeight*value + (1-SmoothingWeight)*prev
		}
		s.scores[e.Name] = value
		smoothed = append(smoothed, EmotionScore{Name: e.Name, Score: value})
	}
	return smoothed
}

// Score returns the smoothed score for name
func (s *SmoothedEmotionState) Score(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scores[name]
	return v, ok
}

// Snapshot returns a copy of all smoothed scores
func (s *SmoothedEmotionState) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.scores))
	for k, v := range s.scores {
		out[k] = v
	}
	return out
}

// Reset forgets every observed emotion
func (s *SmoothedEmotionState) Reset() {
	s.mu.Lock()
	s.scores = make(map[string]float64)
	s.mu.Unlock()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

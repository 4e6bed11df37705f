package transcript

import (
	"context"
	"errors"
)

// errors
var (
	ErrNoVideoID  = errors.New("could not extract video id from url")
	ErrNoCaptions = errors.New("no captions available for video")
	ErrTooShort   = errors.New("transcript too short, video may not have usable subtitles")
)

// minimum usable transcript length in characters
const minTranscriptLength = 50

// fetches cleaned transcript text for a video URL
type Source interface {
	Fetch(ctx context.Context, videoURL string) (*Transcript, error)
}

// holds the cleaned transcript for one video
type Transcript struct {
	VideoID  string
	Language string
	Kind     string // "manual" or "auto-generated"
	Text     string
}

// one caption track advertised for a video
type track struct {
	LangCode string `xml:"lang_code,attr"`
	Name     string `xml:"name,attr"`
	Kind     string `xml:"kind,attr"` // "asr" for auto-generated tracks
}

type trackList struct {
	Tracks []track `xml:"track"`
}

// one subtitle cue in a caption track
type cue struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Text  string `xml:",chardata"`
}

type cueList struct {
	Cues []cue `xml:"text"`
}

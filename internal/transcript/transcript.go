package transcript

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/recipechat/server/internal/logger"
)

const timedTextBaseURL = "https://video.google.com/timedtext"

// languages tried in order for both manual and auto-generated tracks
var languagePriority = []string{"en", "hi"}

// shared HTTP client for caption endpoints
var timedTextHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// fetches YouTube caption tracks via the timedtext endpoint
type YouTubeClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewYouTubeClient() *YouTubeClient {
	return &YouTubeClient{
		httpClient: timedTextHTTPClient,
		baseURL:    timedTextBaseURL,
	}
}

// creates a client against a custom endpoint (used by tests)
func NewYouTubeClientWithBaseURL(baseURL string) *YouTubeClient {
	return &YouTubeClient{
		httpClient: timedTextHTTPClient,
		baseURL:    baseURL,
	}
}

// extracts the video ID from the common YouTube URL forms
func ExtractVideoID(videoURL string) (string, error) {
	cut := func(s, sep string) (string, bool) {
		_, after, found := strings.Cut(s, sep)
		if !found {
			return "", false
		}

		// the id runs until the next URL delimiter
		end := strings.IndexAny(after, "&?/#")
		if end >= 0 {
			after = after[:end]
		}

		return after, after != ""
	}

	// the v parameter is anchored to a delimiter so other query
	// parameters ending in "v" cannot match
	for _, sep := range []string{"?v=", "&v=", "youtu.be/", "embed/", "shorts/"} {
		if id, ok := cut(videoURL, sep); ok {
			return id, nil
		}
	}

	return "", ErrNoVideoID
}

// fetches and cleans the best available transcript for a video URL.
// manual tracks are preferred over auto-generated ones, in language
// priority order, falling back to any advertised track.
func (y *YouTubeClient) Fetch(ctx context.Context, videoURL string) (*Transcript, error) {
	videoID, err := ExtractVideoID(videoURL)
	if err != nil {
		return nil, err
	}

	tracks, err := y.listTracks(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if len(tracks.Tracks) == 0 {
		return nil, ErrNoCaptions
	}

	selected, kind := selectTrack(tracks.Tracks)

	logger.Debug("caption track selected",
		"video_id", videoID,
		"lang", selected.LangCode,
		"kind", kind,
	)

	text, err := y.fetchTrack(ctx, videoID, selected)
	if err != nil {
		return nil, err
	}

	if len(text) < minTranscriptLength {
		return nil, ErrTooShort
	}

	return &Transcript{
		VideoID:  videoID,
		Language: selected.LangCode,
		Kind:     kind,
		Text:     text,
	}, nil
}

// picks the best track: manual in priority order, then auto-generated in
// priority order, then whatever is first
func selectTrack(tracks []track) (track, string) {
	for _, lang := range languagePriority {
		for _, t := range tracks {
			if t.LangCode == lang && t.Kind != "asr" {
				return t, "manual"
			}
		}
	}

	for _, lang := range languagePriority {
		for _, t := range tracks {
			if t.LangCode == lang && t.Kind == "asr" {
				return t, "auto-generated"
			}
		}
	}

	t := tracks[0]

	kind := "manual"
	if t.Kind == "asr" {
		kind = "auto-generated"
	}

	return t, kind
}

// lists the caption tracks advertised for a video
func (y *YouTubeClient) listTracks(ctx context.Context, videoID string) (*trackList, error) {
	listURL := fmt.Sprintf("%s?type=list&v=%s", y.baseURL, url.QueryEscape(videoID))

	body, err := y.get(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list caption tracks: %w", err)
	}

	var tracks trackList
	if err := xml.Unmarshal(body, &tracks); err != nil {
		return nil, fmt.Errorf("failed to parse caption track list: %w", err)
	}

	return &tracks, nil
}

// downloads one caption track and returns its cleaned text
func (y *YouTubeClient) fetchTrack(ctx context.Context, videoID string, t track) (string, error) {
	params := url.Values{}
	params.Set("v", videoID)
	params.Set("lang", t.LangCode)

	if t.Name != "" {
		params.Set("name", t.Name)
	}

	if t.Kind != "" {
		params.Set("kind", t.Kind)
	}

	trackURL := fmt.Sprintf("%s?%s", y.baseURL, params.Encode())

	body, err := y.get(ctx, trackURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch caption track: %w", err)
	}

	var cues cueList
	if err := xml.Unmarshal(body, &cues); err != nil {
		return "", fmt.Errorf("failed to parse caption track: %w", err)
	}

	return cleanCues(cues.Cues), nil
}

func (y *YouTubeClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Package upload publishes finished videos through the YouTube Data API.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"shortforge/pipeline"
)

// Uploader sends a composed file plus metadata to YouTube. It implements
// pipeline.Uploader.
type Uploader struct {
	logger *slog.Logger
}

// New creates an uploader. Credentials come from the environment
// (YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, YOUTUBE_REFRESH_TOKEN).
func New(logger *slog.Logger) *Uploader {
	return &Uploader{logger: logger.With("component", "upload")}
}

// Upload publishes the video. A zero publishAt (or one in the past) publishes
// immediately; a future publishAt uploads private with a scheduled publish
// time, which is how YouTube models scheduled releases.
func (u *Uploader) Upload(ctx context.Context, videoPath string, meta pipeline.Metadata, publishAt time.Time) (string, error) {
	client, err := oauthClient(ctx)
	if err != nil {
		return "", fmt.Errorf("youtube auth: %w", err)
	}
	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", fmt.Errorf("youtube service: %w", err)
	}

	status := &youtube.VideoStatus{PrivacyStatus: "public"}
	if !publishAt.IsZero() && publishAt.After(time.Now()) {
		// Must be private while a scheduled publish time is pending.
		status.PrivacyStatus = "private"
		status.PublishAt = publishAt.UTC().Format("2006-01-02T15:04:05.000Z")
		u.logger.Info("scheduling publish", "publish_at", status.PublishAt)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			CategoryId:  meta.CategoryID,
		},
		Status: status,
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)
	uploaded, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}

	url := fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id)
	u.logger.Info("uploaded", "id", uploaded.Id, "url", url)
	return url, nil
}

func oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token)), nil
}

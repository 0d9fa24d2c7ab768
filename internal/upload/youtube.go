package upload

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// Metadata describes one YouTube upload.
type Metadata struct {
	Title       string
	Description string
	Tags        []string
	CategoryID  string
	Privacy     string // private, unlisted or public
	Language    string
}

// Uploader publishes finished videos through the YouTube Data API v3.
// Credentials come from YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET and
// YOUTUBE_REFRESH_TOKEN.
type Uploader struct {
	Log *logrus.Logger
}

// Upload sends one video file and returns its watch URL.
func (u *Uploader) Upload(ctx context.Context, videoFile string, meta Metadata) (string, error) {
	client, err := oauthClient(ctx)
	if err != nil {
		return "", errors.Wrap(err, "youtube auth")
	}
	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", errors.Wrap(err, "youtube service")
	}

	if meta.Privacy == "" {
		meta.Privacy = "unlisted"
	}
	if meta.CategoryID == "" {
		meta.CategoryID = "24" // Entertainment
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                meta.Title,
			Description:          meta.Description,
			Tags:                 meta.Tags,
			CategoryId:           meta.CategoryID,
			DefaultLanguage:      meta.Language,
			DefaultAudioLanguage: meta.Language,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: meta.Privacy,
		},
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return "", errors.Wrap(err, "open video file")
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil {
		u.Log.Infof("[upload] uploading %q (%.1f MB)", meta.Title, float64(fi.Size())/1024/1024)
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)
	uploaded, err := call.Do()
	if err != nil {
		return "", errors.Wrap(err, "youtube upload")
	}

	url := fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id)
	u.Log.Infof("[upload] done: %s", url)
	return url, nil
}

// oauthClient builds an HTTP client from env refresh-token credentials.
// The token expiry is backdated so the first request always refreshes.
func oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.New("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token)), nil
}

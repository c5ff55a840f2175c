// Package telegram implements the dispatch client on top of the Telegram
// Bot API (telebot). It is send-only: the adapter never polls for updates.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"autopost/internal/dispatch"
	"autopost/internal/storage"
	"autopost/pkg/logx"
)

type Config struct {
	Token string

	// APITimeout bounds each Bot API call. Default 30s. The poster core
	// treats "no outcome within this timeout" as a classified failure,
	// never a hang.
	APITimeout time.Duration
}

type Adapter struct {
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{log: log, bot: b}, nil
}

var _ dispatch.Client = (*Adapter)(nil)

// Send delivers one pool message to one destination chat. Text-only
// messages go out as HTML text; messages with media go out as a single
// attachment or an album, with the pool caption.
func (a *Adapter) Send(ctx context.Context, dest storage.Destination, msg storage.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to := tele.ChatID(dest.ID)
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}

	var err error
	switch {
	case len(msg.MediaPaths) == 0:
		_, err = a.bot.Send(to, msg.Text, opts)
	case len(msg.MediaPaths) == 1:
		_, err = a.bot.Send(to, mediaFor(msg.MediaPaths[0], msg.Caption), opts)
	default:
		album := make(tele.Album, 0, len(msg.MediaPaths))
		for i, p := range msg.MediaPaths {
			caption := ""
			if i == 0 {
				// Telegram shows the album caption from its first item.
				caption = msg.Caption
			}
			album = append(album, mediaFor(p, caption))
		}
		_, err = a.bot.SendAlbum(to, album, opts)
	}
	return classify(err)
}

// mediaFor picks the attachment type from the file extension.
func mediaFor(path, caption string) tele.Inputtable {
	f := tele.FromDisk(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return &tele.Photo{File: f, Caption: caption}
	case ".mp4":
		return &tele.Video{File: f, Caption: caption}
	default:
		return &tele.Document{File: f, Caption: caption, FileName: filepath.Base(path)}
	}
}

// classify maps Bot API errors onto the dispatch outcome taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return dispatch.RateLimited(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) {
		return dispatch.RateLimited(err, time.Duration(floodPtr.RetryAfter)*time.Second)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return dispatch.ErrPermissionDenied
	}
	return err
}

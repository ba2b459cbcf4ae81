/*
Copyright © 2025 Yechayo <yechayo@riseup.net>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)

	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}

	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	if port != "" {
		return host + ":" + port
	}

	return host
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("bluffhub v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveHealthCheck(cfg *Config, client *Client, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(w)

		body := "OK\n"
		if !client.router.Connected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			body = "DISCONNECTED\n"
		} else {
			w.WriteHeader(http.StatusOK)
		}

		written, err := io.WriteString(w, body)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Health check (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// statusReport is the JSON body of the status endpoint: one page with
// everything needed to see what the session is doing.
type statusReport struct {
	Version          string           `json:"version"`
	User             *UserProfile     `json:"user,omitempty"`
	Transport        TransportStats   `json:"transport"`
	PendingExchanges int              `json:"pendingExchanges"`
	LastHandlerError string           `json:"lastHandlerError,omitempty"`
	HeartbeatAt      string           `json:"heartbeatAt,omitempty"`
	HeartbeatLatency string           `json:"heartbeatLatency,omitempty"`
	OnlineCount      int              `json:"onlineCount"`
	Room             *RoomSnapshot    `json:"room,omitempty"`
	Game             *GameView        `json:"game,omitempty"`
	VoicePeers       map[int64]string `json:"voicePeers,omitempty"`
}

func serveStatus(cfg *Config, client *Client, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		report := statusReport{
			Version:          releaseVersion,
			User:             client.auth.User(),
			Transport:        client.transport.Stats(),
			PendingExchanges: client.router.Pending(),
			LastHandlerError: client.router.LastError(),
			OnlineCount:      client.Presence().OnlineCount,
			Room:             client.room.Current(),
			VoicePeers:       client.voice.PeerStates(),
		}
		if at, latency := client.router.HeartbeatStats(); !at.IsZero() {
			report.HeartbeatAt = at.Format(logDate)
			report.HeartbeatLatency = latency.String()
		}
		if view := client.game.View(); view.GameID != 0 {
			report.Game = &view
		}

		body, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			errs <- err

			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write(append(body, '\n'))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Status page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveInviteQR renders a scannable invite for one room, pointing at the
// game server's join link.
func serveInviteQR(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		roomID, err := strconv.ParseInt(p.ByName("roomid"), 10, 64)
		if err != nil || roomID < 1 {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		png, err := qrcode.Encode(cfg.apiURL(fmt.Sprintf("/room/%d", roomID)), qrcode.Medium, 256)
		if err != nil {
			errs <- err
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Invite QR for room %d (%s) to %s in %s",
			roomID,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveWeb(ctx context.Context, cfg *Config, client *Client) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: bluffhub v%s", releaseVersion)

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, "An error has occurred. Please try again.\n")
	}

	errs := make(chan error, 64)

	mux.GET("/healthz", serveHealthCheck(cfg, client, errs))

	mux.GET("/invite/:roomid/qr", serveInviteQR(cfg, errs))

	mux.GET("/status", serveStatus(cfg, client, errs))

	mux.GET("/version", serveVersion(cfg, errs))

	if cfg.profile {
		registerProfileHandlers(mux)
	}

	go func() {
		logf(cfg, "SERVE: Listening on http://%s/", srv.Addr)

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	go func() {
		for err := range errs {
			logf(cfg, "SERVE: write failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)

	return nil
}

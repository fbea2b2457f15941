// internal/portal/server.go
package portal

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tamzrod/wifi-onboard/internal/credstore"
	"github.com/tamzrod/wifi-onboard/internal/onboard"
)

// Server is the captive-portal HTTP endpoint. Together with the DNS
// responder (which resolves every name to us) and the DHCP responder
// (which hands out our address as router and DNS), any request a joined
// phone makes lands here and gets the credential form.
type Server struct {
	out  chan<- onboard.Submission
	log  *slog.Logger
	tmpl *template.Template
}

func New(out chan<- onboard.Submission) *Server {
	return &Server{
		out:  out,
		log:  slog.With("component", "portal"),
		tmpl: template.Must(template.New("form").Parse(formPage)),
	}
}

// Run serves on the listener until ctx is cancelled. One submission is
// accepted per portal lifetime; the machine restarts after it anyway.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("portal: serve: %w", err)
	}
}

// Handler is split out so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/save", s.handleSave)
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	// Captive-portal probes (generate_204, hotspot-detect.html and
	// friends) hit arbitrary paths; redirect them all to the form so the
	// OS pops its sign-in sheet.
	if r.URL.Path != "/" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.renderForm(w, "")
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	sub, err := parseSubmission(r.PostForm.Get("ssid"), r.PostForm.Get("password"), r.PostForm.Get("tz"))
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		s.renderForm(w, err.Error())
		return
	}

	select {
	case s.out <- sub:
		s.log.Info("credentials submitted", "ssid", sub.SSID)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, savedPage)
	default:
		// A submission is already queued; the device is about to restart.
		http.Error(w, "already configured, device restarting", http.StatusConflict)
	}
}

func (s *Server) renderForm(w http.ResponseWriter, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, map[string]string{"Error": errMsg}); err != nil {
		s.log.Warn("form render failed", "error", err)
	}
}

// parseSubmission validates the raw form fields into a Submission.
// Pure. No IO.
func parseSubmission(ssid, password, tz string) (onboard.Submission, error) {
	ssid = strings.TrimSpace(ssid)
	if ssid == "" {
		return onboard.Submission{}, errors.New("network name is required")
	}
	if len(ssid) > credstore.SSIDCapacity {
		return onboard.Submission{}, fmt.Errorf("network name exceeds %d bytes", credstore.SSIDCapacity)
	}
	if len(password) > credstore.PasswordCapacity {
		return onboard.Submission{}, fmt.Errorf("password exceeds %d bytes", credstore.PasswordCapacity)
	}

	minutes := int64(0)
	if tz = strings.TrimSpace(tz); tz != "" {
		var err error
		minutes, err = strconv.ParseInt(tz, 10, 32)
		if err != nil {
			return onboard.Submission{}, errors.New("timezone offset must be a whole number of minutes")
		}
	}
	if minutes < onboard.MinTimezoneMinutes || minutes > onboard.MaxTimezoneMinutes {
		return onboard.Submission{}, fmt.Errorf(
			"timezone offset must be between %d and %d minutes",
			onboard.MinTimezoneMinutes, onboard.MaxTimezoneMinutes,
		)
	}

	return onboard.Submission{
		SSID:                  ssid,
		Password:              password,
		TimezoneOffsetMinutes: int32(minutes),
	}, nil
}

const formPage = `<!DOCTYPE html>
<html>
<head><meta name="viewport" content="width=device-width, initial-scale=1"><title>WiFi Setup</title></head>
<body>
<h1>WiFi Setup</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
<form method="POST" action="/save">
<label>Network name<br><input name="ssid" maxlength="32" required></label><br>
<label>Password<br><input name="password" type="password" maxlength="64"></label><br>
<label>Timezone offset (minutes from UTC)<br><input name="tz" type="number" value="0" min="-720" max="840"></label><br>
<button type="submit">Save</button>
</form>
</body>
</html>`

const savedPage = `<!DOCTYPE html>
<html>
<head><meta name="viewport" content="width=device-width, initial-scale=1"><title>Saved</title></head>
<body>
<h1>Saved</h1>
<p>The device will now restart and join your network.</p>
</body>
</html>`

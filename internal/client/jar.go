package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

// NewJar returns an in-memory cookie jar using the public suffix list.
func NewJar() http.CookieJar {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

// storedCookie is the persisted subset of an http.Cookie.
type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// PersistentJar is a cookie jar saved to a JSON file after every change. It
// keeps the backend's refresh cookie across CLI invocations.
type PersistentJar struct {
	path string
	jar  *cookiejar.Jar

	mu      sync.Mutex
	cookies map[string]map[string]storedCookie // origin -> name -> cookie
}

var _ http.CookieJar = (*PersistentJar)(nil)

// NewPersistentJar loads the jar stored at path, starting empty if the file does not exist.
func NewPersistentJar(path string) (*PersistentJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	pj := &PersistentJar{
		path:    path,
		jar:     jar,
		cookies: make(map[string]map[string]storedCookie),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return pj, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie jar: %w", err)
	}
	if err := json.Unmarshal(data, &pj.cookies); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("ignoring corrupt cookie jar")
		pj.cookies = make(map[string]map[string]storedCookie)
		return pj, nil
	}

	now := time.Now()
	for origin, byName := range pj.cookies {
		u, err := url.Parse(origin)
		if err != nil {
			delete(pj.cookies, origin)
			continue
		}
		cookies := make([]*http.Cookie, 0, len(byName))
		for name, c := range byName {
			if !c.Expires.IsZero() && c.Expires.Before(now) {
				delete(byName, name)
				continue
			}
			cookies = append(cookies, c.cookie())
		}
		jar.SetCookies(u, cookies)
	}

	return pj, nil
}

// Path returns the location of the jar file.
func (j *PersistentJar) Path() string {
	return j.path
}

// Cookies implements http.CookieJar.
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// SetCookies implements http.CookieJar and saves the jar.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)

	origin := (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
	byName := j.cookies[origin]
	if byName == nil {
		byName = make(map[string]storedCookie)
		j.cookies[origin] = byName
	}

	now := time.Now()
	for _, c := range cookies {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			delete(byName, c.Name)
			continue
		}
		sc := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.MaxAge > 0 {
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		byName[c.Name] = sc
	}
	if len(byName) == 0 {
		delete(j.cookies, origin)
	}

	if err := j.save(); err != nil {
		log.Warn().Err(err).Str("path", j.path).Msg("failed to save cookie jar")
	}
}

// Clear forgets every cookie and removes the jar file.
func (j *PersistentJar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return err
	}
	j.jar = jar
	j.cookies = make(map[string]map[string]storedCookie)

	if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cookie jar: %w", err)
	}
	return nil
}

func (j *PersistentJar) save() error {
	data, err := json.MarshalIndent(j.cookies, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return err
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}

func (c storedCookie) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
}

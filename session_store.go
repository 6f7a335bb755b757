package connect

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	// FormCookieName holds the registration envelope
	FormCookieName = "formData"
	// AuthTokenCookieName holds the credential issued after OTP verification
	AuthTokenCookieName = "authToken"
	// QRGrantCookieName holds the signed QR display grant
	QRGrantCookieName = "qrGrant"

	DefaultFormTTL = 10 * time.Minute

	// EnvelopeSizeWarning is the encoded envelope size past which saves are
	// logged; browsers drop cookies over 4096 bytes.
	EnvelopeSizeWarning = 3500
)

// PersistedEnvelope is the single cookie payload of an in flight registration
type PersistedEnvelope struct {
	Data      FormRecord  `json:"data"`
	Timestamp int64       `json:"timestamp"`
	FormState WizardState `json:"formState"`
	View      ViewState   `json:"view"`
}

// SessionRepository persists the registration between requests
type SessionRepository interface {
	Load() (*PersistedEnvelope, bool)
	Save(data FormRecord, state WizardState)
	SaveEnvelope(env PersistedEnvelope)
	Clear()
	// ResetAllSessionState drops every cookie and the client key value storage
	ResetAllSessionState()
	StoreCredential(name, value string, ttl time.Duration)
}

// CookieJar abstracts cookie access for one request
type CookieJar interface {
	Cookie(name string) string
	SetCookie(cookie *fiber.Cookie)
	Names() []string
	ClearStorage()
}

// SessionStoreOption customizes the cookie session store
type SessionStoreOption func(*CookieSessionStore)

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionStoreOption {
	return func(s *CookieSessionStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionTTL overrides the envelope lifetime
func WithSessionTTL(ttl time.Duration) SessionStoreOption {
	return func(s *CookieSessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionLogger overrides the logger used for swallowed failures
func WithSessionLogger(logger Logger) SessionStoreOption {
	return func(s *CookieSessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSecureCookies toggles the Secure attribute
func WithSecureCookies(secure bool) SessionStoreOption {
	return func(s *CookieSessionStore) {
		s.secure = secure
	}
}

// CookieSessionStore keeps the envelope in a strict same site cookie.
// Expiry is enforced on read as well as by the cookie lifetime.
type CookieSessionStore struct {
	jar    CookieJar
	ttl    time.Duration
	secure bool
	now    func() time.Time
	logger Logger
}

// NewCookieSessionStore returns a store bound to one request jar
func NewCookieSessionStore(jar CookieJar, opts ...SessionStoreOption) *CookieSessionStore {
	s := &CookieSessionStore{
		jar:    jar,
		ttl:    DefaultFormTTL,
		secure: true,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *CookieSessionStore) Load() (*PersistedEnvelope, bool) {
	raw := s.jar.Cookie(FormCookieName)
	if raw == "" {
		return nil, false
	}

	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		s.logger.Error("session envelope unescape failed: %v", err)
		return nil, false
	}

	env := &PersistedEnvelope{}
	if err := json.Unmarshal([]byte(decoded), env); err != nil {
		s.logger.Error("session envelope decode failed: %v", err)
		return nil, false
	}

	age := s.now().Sub(time.UnixMilli(env.Timestamp))
	if age >= s.ttl {
		s.logger.Debug("session envelope expired after %s", age)
		s.Clear()
		return nil, false
	}

	env.Data.Normalize()
	env.FormState.Normalize()
	return env, true
}

func (s *CookieSessionStore) Save(data FormRecord, state WizardState) {
	s.SaveEnvelope(PersistedEnvelope{Data: data, FormState: state})
}

func (s *CookieSessionStore) SaveEnvelope(env PersistedEnvelope) {
	now := s.now()
	env.Timestamp = now.UnixMilli()

	payload, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("session envelope encode failed: %v", err)
		return
	}

	value := url.QueryEscape(string(payload))
	if len(value) > EnvelopeSizeWarning {
		s.logger.Error("session envelope is %d bytes, close to the cookie size limit (areas=%d touched=%d)",
			len(value), len(env.View.Areas), len(env.View.Touched))
	}

	s.jar.SetCookie(&fiber.Cookie{
		Name:     FormCookieName,
		Value:    value,
		Path:     "/",
		Expires:  now.Add(s.ttl),
		Secure:   s.secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (s *CookieSessionStore) Clear() {
	s.cookieDel(FormCookieName)
}

func (s *CookieSessionStore) ResetAllSessionState() {
	s.cookieDel(FormCookieName)
	for _, name := range s.jar.Names() {
		if name == FormCookieName {
			continue
		}
		s.cookieDel(name)
	}
	s.jar.ClearStorage()
}

func (s *CookieSessionStore) StoreCredential(name, value string, ttl time.Duration) {
	s.jar.SetCookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  s.now().Add(ttl),
		Secure:   s.secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (s *CookieSessionStore) cookieDel(name string) {
	s.jar.SetCookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  s.now().Add(-time.Hour * (24 * 365)),
		Secure:   s.secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// FiberCookieJar reads request cookies and writes response cookies
type FiberCookieJar struct {
	c *fiber.Ctx
}

// NewFiberCookieJar wraps a fiber context
func NewFiberCookieJar(c *fiber.Ctx) *FiberCookieJar {
	return &FiberCookieJar{c: c}
}

func (j *FiberCookieJar) Cookie(name string) string {
	return j.c.Cookies(name)
}

func (j *FiberCookieJar) SetCookie(cookie *fiber.Cookie) {
	j.c.Cookie(cookie)
}

func (j *FiberCookieJar) Names() []string {
	names := []string{}
	j.c.Request().Header.VisitAllCookie(func(key, _ []byte) {
		names = append(names, string(key))
	})
	return names
}

// ClearStorage asks the browser to drop local and session storage
func (j *FiberCookieJar) ClearStorage() {
	j.c.Set("Clear-Site-Data", `"storage"`)
}

// MemoryCookieJar is a CookieJar kept in memory, honoring expiry on write
type MemoryCookieJar struct {
	mu             sync.Mutex
	values         map[string]string
	written        map[string]*fiber.Cookie
	now            func() time.Time
	StorageCleared bool
}

// NewMemoryCookieJar returns an empty jar
func NewMemoryCookieJar(now func() time.Time) *MemoryCookieJar {
	if now == nil {
		now = time.Now
	}
	return &MemoryCookieJar{
		values:  map[string]string{},
		written: map[string]*fiber.Cookie{},
		now:     now,
	}
}

func (j *MemoryCookieJar) Cookie(name string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.values[name]
}

func (j *MemoryCookieJar) SetCookie(cookie *fiber.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *cookie
	j.written[cookie.Name] = &cp
	if !cookie.Expires.IsZero() && !cookie.Expires.After(j.now()) {
		delete(j.values, cookie.Name)
		return
	}
	j.values[cookie.Name] = cookie.Value
}

func (j *MemoryCookieJar) Names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.values))
	for name := range j.values {
		names = append(names, name)
	}
	return names
}

func (j *MemoryCookieJar) ClearStorage() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.StorageCleared = true
}

// Put seeds a cookie as if sent by the browser
func (j *MemoryCookieJar) Put(name, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values[name] = value
}

// Written returns the last cookie written under name
func (j *MemoryCookieJar) Written(name string) (*fiber.Cookie, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.written[name]
	return c, ok
}

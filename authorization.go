package connect

import (
	"slices"
	"strings"
	"time"
)

const (
	RootRoute         = "/"
	UnauthorizedRoute = "/unauthorized"
	StaffQRRoute      = "/staffqr"

	// UserCookieName holds the signed staff session
	UserCookieName = "user"
	// StaffTokenCookieName holds the backend token returned on staff login
	StaffTokenCookieName = "token"
)

// AlwaysAllowedRoutes bypass screen permission checks once authenticated
var AlwaysAllowedRoutes = []string{UnauthorizedRoute, RootRoute, StaffQRRoute}

// Option is a value/label pair used for portals and screens
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// UserData is the staff session payload
type UserData struct {
	UserCode    string   `json:"user_code"`
	UserName    string   `json:"user_name"`
	UserRole    string   `json:"user_role"`
	PortalNames []Option `json:"portalNames"`
	Screens     []Option `json:"screens"`
	Concern     string   `json:"concern"`
	Division    string   `json:"division"`
	Branch      string   `json:"branch"`
	Location    string   `json:"location"`
}

// Approval is one row of the backend permission list
type Approval struct {
	UserRole       string `json:"user_role"`
	UserPortal     string `json:"user_portal"`
	UserScreen     string `json:"user_screen"`
	PortalName     string `json:"portal_name"`
	PortalScreen   string `json:"portal_screen"`
	Concern        string `json:"user_approval_concern"`
	Branch         string `json:"user_approval_branch"`
	BranchDivision string `json:"user_approval_branch_division"`
}

// AuthSession is the authorization view of a request
type AuthSession struct {
	IsAuthenticated bool      `json:"isAuthenticated"`
	UserRole        string    `json:"userRole"`
	AllowedScreens  []string  `json:"allowedScreens"`
	LastUpdateTime  time.Time `json:"lastUpdateTime"`
}

// NewAuthSession derives the session view of user
func NewAuthSession(user UserData, updatedAt time.Time) AuthSession {
	return AuthSession{
		IsAuthenticated: true,
		UserRole:        user.UserRole,
		AllowedScreens:  AllowedScreens(user),
		LastUpdateTime:  updatedAt,
	}
}

// Allows reports whether the session may view path
func (s AuthSession) Allows(path string) bool {
	if !s.IsAuthenticated {
		return false
	}
	if IsAlwaysAllowedRoute(path) || IsPathAllowed(path, s.AllowedScreens) {
		return true
	}
	return IsSubRouteAllowed(path, AlwaysAllowedRoutes) || IsSubRouteAllowed(path, s.AllowedScreens)
}

// AllowedScreens maps each screen of user to its route
func AllowedScreens(user UserData) []string {
	out := make([]string, 0, len(user.Screens))
	for _, s := range user.Screens {
		if s.Value == "" {
			continue
		}
		out = append(out, "/"+strings.TrimPrefix(s.Value, "/"))
	}
	return out
}

// IsAlwaysAllowedRoute reports whether path bypasses screen permissions
func IsAlwaysAllowedRoute(path string) bool {
	return IsPathAllowed(path, AlwaysAllowedRoutes)
}

// IsPathAllowed is a case insensitive membership test of path in allowed
func IsPathAllowed(path string, allowed []string) bool {
	p := normalizeRoute(path)
	for _, a := range allowed {
		if normalizeRoute(a) == p {
			return true
		}
	}
	return false
}

// IsSubRouteAllowed reports whether path sits below one of the allowed screens,
// so /staffqr/generate follows the permission of /staffqr. The root route
// never grants its sub routes.
func IsSubRouteAllowed(path string, allowed []string) bool {
	p := normalizeRoute(path)
	for _, a := range allowed {
		screen := normalizeRoute(a)
		if screen == RootRoute {
			continue
		}
		if strings.HasPrefix(p, screen+"/") {
			return true
		}
	}
	return false
}

func normalizeRoute(path string) string {
	p := strings.ToLower(strings.TrimSpace(path))
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		p = RootRoute
	}
	return p
}

// ScreensForRole returns the deduplicated screens and portals granted to role,
// in the order they first appear
func ScreensForRole(approvals []Approval, role string) (screens []Option, portals []Option) {
	screens = []Option{}
	portals = []Option{}
	for _, a := range approvals {
		if a.UserRole != role {
			continue
		}
		if a.PortalScreen != "" && !containsOption(screens, a.PortalScreen) {
			screens = append(screens, Option{Value: a.PortalScreen, Label: a.PortalScreen})
		}
		if a.PortalName != "" && !containsOption(portals, a.PortalName) {
			portals = append(portals, Option{Value: a.PortalName, Label: a.PortalName})
		}
	}
	return screens, portals
}

func containsOption(opts []Option, value string) bool {
	return slices.ContainsFunc(opts, func(o Option) bool {
		return o.Value == value
	})
}

func sameOptions(a, b []Option) bool {
	return slices.Equal(a, b)
}

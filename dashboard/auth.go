package dashboard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"
)

const sessionName = "ticket_session"

var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
}

func (s *Server) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.Dashboard.ClientID,
		ClientSecret: s.cfg.Dashboard.ClientSecret,
		RedirectURL:  s.cfg.Dashboard.RedirectURL,
		Scopes:       []string{"identify", "guilds"},
		Endpoint:     discordEndpoint,
	}
}

func (s *Server) session(c *gin.Context) *sessions.Session {
	sess, _ := s.store.Get(c.Request, sessionName)
	return sess
}

func (s *Server) saveSession(c *gin.Context, sess *sessions.Session) {
	if err := sess.Save(c.Request, c.Writer); err != nil {
		log.Printf("[Dashboard] Session save failed: %v", err)
	}
}

func (s *Server) currentUserID(c *gin.Context) string {
	sess := s.session(c)
	if id, ok := sess.Values["user_id"].(string); ok {
		return id
	}
	return ""
}

func (s *Server) handleLogin(c *gin.Context) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		c.String(http.StatusInternalServerError, "could not start login")
		return
	}
	state := hex.EncodeToString(buf)

	sess := s.session(c)
	sess.Values["oauth_state"] = state
	s.saveSession(c, sess)

	c.Redirect(http.StatusFound, s.oauthConfig().AuthCodeURL(state))
}

func (s *Server) handleCallback(c *gin.Context) {
	sess := s.session(c)
	want, _ := sess.Values["oauth_state"].(string)
	if want == "" || c.Query("state") != want {
		c.String(http.StatusForbidden, "state mismatch")
		return
	}
	delete(sess.Values, "oauth_state")

	token, err := s.oauthConfig().Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		log.Printf("[Dashboard] OAuth exchange failed: %v", err)
		c.String(http.StatusBadGateway, "login failed")
		return
	}

	user, err := fetchDiscordUser(s.oauthConfig(), token)
	if err != nil {
		log.Printf("[Dashboard] Identity fetch failed: %v", err)
		c.String(http.StatusBadGateway, "login failed")
		return
	}

	sess.Values["user_id"] = user.ID
	sess.Values["username"] = user.Username
	if user.GlobalName != "" {
		sess.Values["username"] = user.GlobalName
	}
	sess.Values["avatar"] = user.Avatar
	s.saveSession(c, sess)

	log.Printf("[Dashboard] %s logged in", user.Username)
	c.Redirect(http.StatusFound, "/dashboard")
}

func fetchDiscordUser(cfg *oauth2.Config, token *oauth2.Token) (*discordUser, error) {
	client := cfg.Client(context.Background(), token)
	resp, err := client.Get("https://discord.com/api/users/@me")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity endpoint returned %d", resp.StatusCode)
	}
	var user discordUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Server) handleLogout(c *gin.Context) {
	sess := s.session(c)
	sess.Options.MaxAge = -1
	s.saveSession(c, sess)
	c.Redirect(http.StatusFound, "/")
}

// requireAuth gates a route group on a live session. API routes get a
// 401, page routes a redirect to the login screen.
func (s *Server) requireAuth(c *gin.Context) {
	if s.currentUserID(c) != "" {
		c.Next()
		return
	}
	if len(c.Request.URL.Path) >= 4 && c.Request.URL.Path[:4] == "/api" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	c.Redirect(http.StatusFound, "/")
	c.Abort()
}

// isAdmin checks the user's guild roles against the configured admin
// role list, served from the member cache.
func (s *Server) isAdmin(userID string) bool {
	member, err := s.manager.Member(userID)
	if err != nil {
		return false
	}
	for _, role := range member.Roles {
		for _, admin := range s.cfg.Discord.AdminRoles {
			if role == admin {
				return true
			}
		}
	}
	return false
}

func (s *Server) requireAdmin(c *gin.Context) {
	if !s.isAdmin(s.currentUserID(c)) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	c.Next()
}

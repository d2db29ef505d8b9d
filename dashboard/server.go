package dashboard

import (
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"

	"ticket-bot/config"
	"ticket-bot/storage"
	"ticket-bot/tickets"
)

// Server is the session-authenticated web surface over the ticket
// store and lifecycle manager.
type Server struct {
	cfg     *config.Config
	manager *tickets.Manager
	hub     *Hub
	store   *sessions.CookieStore
	engine  *gin.Engine
}

func New(cfg *config.Config, manager *tickets.Manager, hub *Hub) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		hub:     hub,
		store:   sessions.NewCookieStore([]byte(cfg.Dashboard.SessionSecret)),
	}
	s.store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.LoadHTMLGlob(filepath.Join(cfg.Dashboard.TemplateDir, "*.html"))
	r.Static("/uploads", cfg.Dashboard.UploadDir)

	r.GET("/", s.handleIndex)
	r.GET("/auth/discord", s.handleLogin)
	r.GET("/auth/discord/callback", s.handleCallback)
	r.GET("/logout", s.handleLogout)

	authed := r.Group("/", s.requireAuth)
	{
		authed.GET("/dashboard", s.handleDashboard)
		authed.GET("/tickets/:id", s.handleTranscriptPage)
		authed.GET("/api/tickets", s.handleTicketsJSON)
		authed.GET("/api/tickets/:id/transcript", s.handleLiveTranscript)
		authed.GET("/ws", hub.handleWS)

		admin := authed.Group("/", s.requireAdmin)
		{
			admin.GET("/admin", s.handleAdmin)
			admin.DELETE("/api/tickets/:id", s.handleDelete)
			admin.POST("/api/bot/settings", s.handleSettings)
			admin.POST("/api/tickets/:id/reopen", s.handleReopen)
			admin.POST("/api/tickets/:id/close", s.handleClose)
			admin.POST("/api/tickets/:id/assign", s.handleAssign)
			admin.POST("/api/tickets/:id/rename", s.handleRename)
			admin.POST("/api/tickets/:id/tags", s.handleTags)
			admin.POST("/api/tickets/:id/add-supporter", s.handleAddSupporter)
		}
	}

	s.engine = r
	return s
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run() error {
	log.Printf("[Dashboard] Listening on %s", s.cfg.Dashboard.ListenAddr)
	return s.engine.Run(s.cfg.Dashboard.ListenAddr)
}

func (s *Server) handleIndex(c *gin.Context) {
	if s.currentUserID(c) != "" {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	c.HTML(http.StatusOK, "index.html", gin.H{})
}

// ticketView is a ticket row enriched with resolved display names for
// template and JSON rendering.
type ticketView struct {
	storage.Ticket
	OwnerName    string `json:"owner_name"`
	AssignedName string `json:"assigned_name,omitempty"`
}

func (s *Server) ticketViews(userID string, admin bool) ([]ticketView, error) {
	var (
		rows []storage.Ticket
		err  error
	)
	if admin {
		rows, err = storage.DB.Tickets()
	} else {
		rows, err = storage.DB.TicketsByUser(userID)
	}
	if err != nil {
		return nil, err
	}

	views := make([]ticketView, 0, len(rows))
	for _, t := range rows {
		v := ticketView{Ticket: t, OwnerName: t.UserID}
		if name, err := s.manager.DisplayName(t.UserID); err == nil {
			v.OwnerName = name
		}
		if t.AssignedTo != "" {
			v.AssignedName = t.AssignedTo
			if name, err := s.manager.DisplayName(t.AssignedTo); err == nil {
				v.AssignedName = name
			}
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Server) handleDashboard(c *gin.Context) {
	userID := s.currentUserID(c)
	admin := s.isAdmin(userID)

	views, err := s.ticketViews(userID, admin)
	if err != nil {
		c.String(http.StatusInternalServerError, "could not load tickets")
		return
	}

	username, _ := s.session(c).Values["username"].(string)
	c.HTML(http.StatusOK, "dashboard.html", gin.H{
		"Tickets":  views,
		"IsAdmin":  admin,
		"Username": username,
	})
}

func (s *Server) handleTicketsJSON(c *gin.Context) {
	userID := s.currentUserID(c)
	views, err := s.ticketViews(userID, s.isAdmin(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load tickets"})
		return
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) ticketParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad ticket id"})
		return 0, false
	}
	return id, true
}

// recordView pairs a stored message record with its server-rendered
// component HTML, since the raw subtree is opaque to the template.
type recordView struct {
	tickets.MessageRecord
	ComponentHTML template.HTML
}

func (s *Server) handleTranscriptPage(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}

	t, err := storage.DB.TicketByID(id)
	if err != nil {
		c.String(http.StatusNotFound, "ticket not found")
		return
	}

	userID := s.currentUserID(c)
	if !s.isAdmin(userID) && t.UserID != userID {
		c.String(http.StatusForbidden, "not your ticket")
		return
	}

	tr, err := storage.DB.TranscriptByTicket(id)
	if err != nil {
		c.String(http.StatusNotFound, "no transcript for this ticket")
		return
	}

	var records []tickets.MessageRecord
	if err := json.Unmarshal([]byte(tr.JSON), &records); err != nil {
		log.Printf("[Dashboard] Broken transcript JSON for ticket #%d: %v", id, err)
	}

	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		v := recordView{MessageRecord: rec}
		if len(rec.Components) > 0 {
			var node tickets.ComponentNode
			if err := json.Unmarshal(rec.Components, &node); err == nil {
				v.ComponentHTML = template.HTML(tickets.FlattenHTML(&node, nil))
			}
		}
		views = append(views, v)
	}

	c.HTML(http.StatusOK, "transcript.html", gin.H{
		"Ticket":  t,
		"Records": views,
	})
}

func (s *Server) handleAdmin(c *gin.Context) {
	stats, err := storage.DB.Stats()
	if err != nil {
		c.String(http.StatusInternalServerError, "could not load stats")
		return
	}
	settings, err := storage.DB.Settings()
	if err != nil {
		c.String(http.StatusInternalServerError, "could not load settings")
		return
	}
	members, err := s.manager.Members()
	if err != nil {
		log.Printf("[Dashboard] Roster unavailable: %v", err)
	}

	c.HTML(http.StatusOK, "admin.html", gin.H{
		"Stats":    stats,
		"Settings": settings,
		"Members":  members,
	})
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}
	if err := s.manager.Delete(id); err != nil {
		s.writeManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleSettings(c *gin.Context) {
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key and value required"})
		return
	}

	if err := storage.DB.SetSetting(body.Key, body.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save setting"})
		return
	}
	if strings.HasPrefix(body.Key, "bot_") {
		s.manager.RefreshPresence()
	}
	c.JSON(http.StatusOK, gin.H{"key": body.Key, "value": body.Value})
}

func (s *Server) handleReopen(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}
	t, err := s.manager.Reopen(id, s.currentUserID(c))
	if err != nil {
		s.writeManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleClose(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}
	t, err := storage.DB.TicketByID(id)
	if err != nil {
		s.writeManagerError(c, err)
		return
	}
	if err := s.manager.Close(t); err != nil {
		s.writeManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleAssign(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}
	var body struct {
		SupporterID string `json:"supporterId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad body"})
		return
	}
	if err := s.manager.Assign(id, body.SupporterID); err != nil {
		s.writeManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": body.SupporterID})
}

func (s *Server) handleRename(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad body"})
		return
	}
	if err := s.manager.Rename(id, body.Name); err != nil {
		s.writeManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": body.Name})
}

func (s *Server) handleTags(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad body"})
		return
	}
	if err := s.manager.SetTags(id, body.Tags); err != nil {
		s.writeManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": body.Tags})
}

func (s *Server) handleAddSupporter(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}
	var body struct {
		SupporterID string `json:"supporterId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.SupporterID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "supporterId required"})
		return
	}
	if err := s.manager.AddSupporter(id, body.SupporterID); err != nil {
		s.writeManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": body.SupporterID})
}

func (s *Server) handleLiveTranscript(c *gin.Context) {
	id, ok := s.ticketParam(c)
	if !ok {
		return
	}

	t, err := storage.DB.TicketByID(id)
	if err != nil {
		s.writeManagerError(c, err)
		return
	}
	userID := s.currentUserID(c)
	if !s.isAdmin(userID) && t.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your ticket"})
		return
	}

	res, err := s.manager.LiveTranscript(id)
	if err != nil {
		s.writeManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"html":    res.HTML,
		"records": res.Records,
		"text":    res.Text,
	})
}

func (s *Server) writeManagerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
	case errors.Is(err, tickets.ErrAlreadyClosed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticket is already closed"})
	case errors.Is(err, tickets.ErrEmptyName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be empty"})
	default:
		log.Printf("[Dashboard] Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

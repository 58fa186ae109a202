package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fankserver/discord-music-mcp/internal/feedback"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager keeps the listening history of every voice connection
type Manager struct {
	sessions  map[string]*Session
	active    map[string]string // guild ID -> session ID
	exportDir string
	mu        sync.RWMutex
}

// Session is one stay of the bot in a voice channel
type Session struct {
	ID        string     `json:"id"`
	GuildID   string     `json:"guildId"`
	ChannelID string     `json:"channelId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Entries   []Entry    `json:"entries"`
}

// Outcome is what happened to a track during a session
type Outcome string

const (
	OutcomePlayed  Outcome = "played"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Entry records one track event in a session
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	TrackID   string    `json:"trackId"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Duration  int       `json:"duration"`
	Requester string    `json:"requester,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// NewManager creates a new session manager exporting to ./exports
func NewManager() *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		active:    make(map[string]string),
		exportDir: "exports",
	}
}

// SetExportDir changes where ExportSession writes files
func (m *Manager) SetExportDir(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportDir = dir
}

// ExportDir returns where ExportSession writes files
func (m *Manager) ExportDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exportDir
}

// CreateSession starts a session for a guild, ending any session the guild
// still had open
func (m *Manager) CreateSession(guildID, channelID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.active[guildID]; ok {
		m.endLocked(prev)
	}

	session := &Session{
		ID:        uuid.New().String(),
		GuildID:   guildID,
		ChannelID: channelID,
		StartTime: time.Now(),
		Entries:   []Entry{},
	}

	m.sessions[session.ID] = session
	m.active[guildID] = session.ID
	return session.ID
}

// AddEntry appends an entry to a session
func (m *Manager) AddEntry(sessionID string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if session.EndTime != nil {
		return fmt.Errorf("session %s already ended", sessionID)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	session.Entries = append(session.Entries, entry)
	return nil
}

// EndSession marks a session as ended
func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s not found", sessionID)
	}
	m.endLocked(sessionID)
	return nil
}

func (m *Manager) endLocked(sessionID string) {
	session := m.sessions[sessionID]
	if session.EndTime == nil {
		now := time.Now()
		session.EndTime = &now
	}
	if m.active[session.GuildID] == sessionID {
		delete(m.active, session.GuildID)
	}
}

// ActiveSession returns the open session of a guild
func (m *Manager) ActiveSession(guildID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[guildID]
	return id, ok
}

// GetSession returns a copy of a session
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	return session.clone(), nil
}

// ListSessions returns all sessions, oldest first
func (m *Manager) ListSessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, *session.clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions
}

func (s *Session) clone() *Session {
	c := *s
	c.Entries = append([]Entry(nil), s.Entries...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// ExportSession writes a session to a JSON file and returns its path
func (m *Manager) ExportSession(sessionID string) (string, error) {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	exportDir := m.exportDir
	m.mu.RUnlock()

	// #nosec G301 - Export directory needs to be readable for serving files
	if err := os.MkdirAll(exportDir, 0750); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	filename := fmt.Sprintf("session_%s_%s.json", session.ID, session.StartTime.Format("20060102_150405"))
	path := filepath.Join(exportDir, filename)

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling session: %w", err)
	}

	// #nosec G306 - Export files need to be readable by the user
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}

	return path, nil
}

// Attach records history from bus events until the returned function is called
func (m *Manager) Attach(bus *feedback.EventBus) func() {
	return bus.SubscribeAll(m.HandleEvent)
}

// HandleEvent updates session history from a playback event
func (m *Manager) HandleEvent(event feedback.Event) {
	logger := logrus.WithFields(logrus.Fields{
		"component":  "session",
		"guild_id":   event.GuildID,
		"event_type": event.Type,
	})

	switch event.Type {
	case feedback.EventVoiceConnected:
		data, _ := event.Data.(feedback.VoiceData)
		id := m.CreateSession(event.GuildID, data.ChannelID)
		logger.WithField("session_id", id).Info("Started listening session")

	case feedback.EventVoiceDisconnected:
		if id, ok := m.ActiveSession(event.GuildID); ok {
			_ = m.EndSession(id)
			logger.WithField("session_id", id).Info("Ended listening session")
		}

	case feedback.EventTrackStarted:
		data, _ := event.Data.(feedback.TrackData)
		m.record(logger, event, entryFor(data.Track.ID, data.Track.Title, data.Track.URL, data.Track.Duration, data.Track.Requester.DisplayName, OutcomePlayed, data.Strategy))

	case feedback.EventTrackSkipped, feedback.EventStreamError:
		data, _ := event.Data.(feedback.TrackFailedData)
		outcome := OutcomeSkipped
		if event.Type == feedback.EventStreamError {
			outcome = OutcomeFailed
		}
		m.record(logger, event, entryFor(data.Track.ID, data.Track.Title, data.Track.URL, data.Track.Duration, data.Track.Requester.DisplayName, outcome, data.Reason))
	}
}

func entryFor(id, title, url string, duration int, requester string, outcome Outcome, detail string) Entry {
	return Entry{
		TrackID:   id,
		Title:     title,
		URL:       url,
		Duration:  duration,
		Requester: requester,
		Outcome:   outcome,
		Detail:    detail,
	}
}

func (m *Manager) record(logger *logrus.Entry, event feedback.Event, entry Entry) {
	id, ok := m.ActiveSession(event.GuildID)
	if !ok {
		return
	}
	entry.Timestamp = event.Timestamp
	if err := m.AddEntry(id, entry); err != nil {
		logger.WithError(err).Debug("Failed to record session entry")
	}
}

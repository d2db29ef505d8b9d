package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Database  DatabaseConfig  `json:"database"`
	Dashboard DashboardConfig `json:"dashboard"`
	Voice     VoiceConfig     `json:"voice"`
	Events    EventsConfig    `json:"events"`
}

type DiscordConfig struct {
	Token          string   `json:"token"`
	GuildID        string   `json:"guild_id"`
	AdminRoles     []string `json:"admin_roles"`
	PanelChannel   string   `json:"panel_channel"`
	ArchiveChannel string   `json:"archive_channel"`
	// DashboardURL is the public base URL used in transcript links,
	// e.g. "https://tickets.example.com".
	DashboardURL string `json:"dashboard_url"`
}

type DatabaseConfig struct {
	Driver  string        `json:"driver"`
	SQLite  SQLiteConfig  `json:"sqlite"`
	MongoDB MongoDBConfig `json:"mongodb"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type MongoDBConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type DashboardConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddr    string `json:"listen_addr"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	RedirectURL   string `json:"redirect_url"`
	SessionSecret string `json:"session_secret"`
	TemplateDir   string `json:"template_dir"`
	UploadDir     string `json:"upload_dir"`
}

type VoiceConfig struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	AudioFile  string `json:"audio_file"`
	FFmpegPath string `json:"ffmpeg_path"`
	// TTSText is spoken into AudioFile on first start when the file is
	// missing. Empty disables generation.
	TTSText string `json:"tts_text"`
	TTSLang string `json:"tts_lang"`
}

type EventsConfig struct {
	AMQPEnabled bool   `json:"amqp_enabled"`
	AMQPURL     string `json:"amqp_url"`
	Exchange    string `json:"exchange"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "data/tickets.db"
	}
	if cfg.Dashboard.ListenAddr == "" {
		cfg.Dashboard.ListenAddr = ":3003"
	}
	if cfg.Dashboard.TemplateDir == "" {
		cfg.Dashboard.TemplateDir = "dashboard/templates"
	}
	if cfg.Dashboard.UploadDir == "" {
		cfg.Dashboard.UploadDir = "data/uploads"
	}
	if cfg.Voice.FFmpegPath == "" {
		cfg.Voice.FFmpegPath = "ffmpeg"
	}
	if cfg.Voice.AudioFile == "" {
		cfg.Voice.AudioFile = "data/audio/announcement.mp3"
	}
	if cfg.Voice.TTSLang == "" {
		cfg.Voice.TTSLang = "en"
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "tickets"
	}
	return &cfg, nil
}

func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

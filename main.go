package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-bot/bot"
	"ticket-bot/config"
	"ticket-bot/dashboard"
	"ticket-bot/events"
	"ticket-bot/handlers"
	"ticket-bot/lang"
	"ticket-bot/storage"
	"ticket-bot/tickets"
	"ticket-bot/voice"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	langPath := flag.String("lang", "lang/messages.yml", "path to the language file")
	cleanup := flag.Bool("cleanup", false, "remove all slash commands on shutdown")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	lang.Load(*langPath)

	if err := storage.InitDB(&cfg.Database); err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer storage.DB.Close()

	// Lifecycle events fan out to the dashboard hub and, when
	// configured, an AMQP exchange.
	var sinks events.Multi
	var hub *dashboard.Hub
	if cfg.Dashboard.Enabled {
		hub = dashboard.NewHub()
		sinks = append(sinks, hub)
	}
	if cfg.Events.AMQPEnabled {
		pub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			log.Printf("[Events] AMQP disabled: %v", err)
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	b, err := bot.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	manager := tickets.NewManager(b.Session, cfg, sinks)
	handlers.Cfg = cfg
	handlers.Manager = manager
	handlers.Register(b.Session)

	if err := b.Start(); err != nil {
		log.Fatalf("Failed to connect to Discord: %v", err)
	}
	if !b.WaitReady(30 * time.Second) {
		log.Fatalf("Gateway ready timed out")
	}

	b.RegisterCommands(handlers.Commands())
	manager.RefreshPresence()

	if cfg.Dashboard.Enabled {
		server := dashboard.New(cfg, manager, hub)
		go func() {
			if err := server.Run(); err != nil {
				log.Printf("[Dashboard] Server stopped: %v", err)
			}
		}()
	}

	var announcer *voice.Announcer
	if cfg.Voice.Enabled && cfg.Voice.ChannelID != "" {
		if _, err := os.Stat(cfg.Voice.AudioFile); os.IsNotExist(err) && cfg.Voice.TTSText != "" {
			if err := voice.GenerateTTS(cfg.Voice.TTSText, cfg.Voice.TTSLang, cfg.Voice.AudioFile); err != nil {
				log.Printf("[Voice] TTS generation failed: %v", err)
			}
		}
		if _, err := os.Stat(cfg.Voice.AudioFile); err == nil {
			announcer = voice.Start(b.Session, cfg.Discord.GuildID, &cfg.Voice)
		} else {
			log.Printf("[Voice] No audio file at %s, announcer disabled", cfg.Voice.AudioFile)
		}
	}

	log.Println("Ticket bot is running. Press CTRL-C to exit.")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	if announcer != nil {
		announcer.Stop()
	}
	if *cleanup {
		b.CleanupCommands()
	}
	b.Stop()
	log.Println("Shutdown complete.")
}

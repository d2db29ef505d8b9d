package tickets

import (
	"log"

	"github.com/bwmarrin/discordgo"

	"ticket-bot/storage"
)

type presenceUpdater interface {
	UpdateStatusComplex(usd discordgo.UpdateStatusData) (err error)
}

var activityTypes = map[string]discordgo.ActivityType{
	"PLAYING":   discordgo.ActivityTypeGame,
	"WATCHING":  discordgo.ActivityTypeWatching,
	"LISTENING": discordgo.ActivityTypeListening,
	"COMPETING": discordgo.ActivityTypeCompeting,
}

// RefreshPresence pushes the bot_* settings onto the gateway presence.
// Called on ready and whenever a bot_ prefixed setting is written.
func RefreshPresence(s presenceUpdater) {
	settings, err := storage.DB.Settings()
	if err != nil {
		log.Printf("[Tickets] Could not load settings for presence: %v", err)
		return
	}

	status := settings["bot_status"]
	if status == "" {
		status = "online"
	}

	data := discordgo.UpdateStatusData{Status: status}
	if activity := settings["bot_activity"]; activity != "" {
		data.Activities = []*discordgo.Activity{{
			Name: activity,
			Type: activityTypes[settings["bot_activity_type"]],
		}}
	}

	if err := s.UpdateStatusComplex(data); err != nil {
		log.Printf("[Tickets] Presence update failed: %v", err)
		return
	}
	log.Printf("[Tickets] Presence set: %s / %s", status, settings["bot_activity"])
}

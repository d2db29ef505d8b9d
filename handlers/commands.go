package handlers

import (
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ticket-bot/config"
	"ticket-bot/storage"
	"ticket-bot/tickets"
)

var (
	Cfg     *config.Config
	Manager *tickets.Manager
)

func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "send-panel",
			Description: "Post the ticket panel into the configured channel",
		},
	}
}

// Register wires the interaction dispatcher onto the session. Cfg and
// Manager must be set before the session opens.
func Register(s *discordgo.Session) {
	s.AddHandler(onInteraction)
}

func onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch name := i.ApplicationCommandData().Name; name {
		case "send-panel":
			handleSendPanel(s, i)
		default:
			log.Printf("[Handlers] Unknown command: %s", name)
		}

	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		switch {
		case id == "open_ticket":
			handleOpenButton(s, i)
		case id == "close_ticket":
			handleCloseButton(s, i)
		case strings.HasPrefix(id, "rate_ticket:"):
			handleRating(s, i)
		default:
			log.Printf("[Handlers] Unknown component id: %s", id)
		}

	case discordgo.InteractionModalSubmit:
		if i.ModalSubmitData().CustomID == "ticket_modal" {
			handleTicketModal(s, i)
		}
	}
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("[Handlers] Interaction response failed: %v", err)
	}
}

func respondPublic(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		log.Printf("[Handlers] Interaction response failed: %v", err)
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	for _, role := range i.Member.Roles {
		for _, admin := range Cfg.Discord.AdminRoles {
			if role == admin {
				return true
			}
		}
	}
	return false
}

func maintenanceActive() bool {
	v, err := storage.DB.Setting("maintenance")
	return err == nil && v == "true"
}

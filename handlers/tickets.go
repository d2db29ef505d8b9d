package handlers

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ticket-bot/lang"
	"ticket-bot/storage"
	"ticket-bot/tickets"
)

func handleSendPanel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(i) {
		respondEphemeral(s, i, lang.T("error.generic"))
		return
	}

	channelID := Cfg.Discord.PanelChannel
	if channelID == "" {
		channelID = i.ChannelID
	}

	accent := 0x5865F2
	panel := &discordgo.MessageSend{
		Flags: discordgo.MessageFlagsIsComponentsV2,
		Components: []discordgo.MessageComponent{
			discordgo.Container{
				AccentColor: &accent,
				Components: []discordgo.MessageComponent{
					discordgo.TextDisplay{Content: "## " + lang.T("panel.title")},
					discordgo.TextDisplay{Content: lang.T("panel.body")},
					discordgo.ActionsRow{Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label:    lang.T("panel.button"),
							Style:    discordgo.PrimaryButton,
							CustomID: "open_ticket",
						},
					}},
				},
			},
		},
	}

	if _, err := s.ChannelMessageSendComplex(channelID, panel); err != nil {
		log.Printf("[Handlers] Panel send failed: %v", err)
		respondEphemeral(s, i, lang.T("error.generic"))
		return
	}
	respondEphemeral(s, i, lang.T("panel.sent", "channel", channelID))
}

func handleOpenButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if maintenanceActive() {
		respondEphemeral(s, i, lang.T("open.maintenance"))
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: "ticket_modal",
			Title:    lang.T("modal.title"),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "product",
						Label:       lang.T("modal.product.label"),
						Placeholder: lang.T("modal.product.placeholder"),
						Style:       discordgo.TextInputShort,
						Required:    true,
						MaxLength:   100,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "topic",
						Label:       lang.T("modal.topic.label"),
						Placeholder: lang.T("modal.topic.placeholder"),
						Style:       discordgo.TextInputShort,
						Required:    true,
						MaxLength:   100,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "details",
						Label:       lang.T("modal.details.label"),
						Placeholder: lang.T("modal.details.placeholder"),
						Style:       discordgo.TextInputParagraph,
						Required:    true,
						MaxLength:   1000,
					},
				}},
			},
		},
	})
	if err != nil {
		log.Printf("[Handlers] Modal response failed: %v", err)
	}
}

func handleTicketModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		respondEphemeral(s, i, lang.T("error.generic"))
		return
	}

	values := modalValues(i.ModalSubmitData())

	t, err := Manager.Open(user.ID, user.Username, values["product"], values["topic"], values["details"])
	if err != nil {
		var exists *tickets.ErrTicketExists
		switch {
		case errors.Is(err, tickets.ErrMaintenance):
			respondEphemeral(s, i, lang.T("open.maintenance"))
		case errors.As(err, &exists):
			respondEphemeral(s, i, lang.T("open.exists", "thread", exists.ThreadID))
		default:
			log.Printf("[Handlers] Ticket open failed for %s: %v", user.ID, err)
			respondEphemeral(s, i, lang.T("open.failed"))
		}
		return
	}

	respondEphemeral(s, i, lang.T("open.created", "thread", t.ThreadID))
}

func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := make(map[string]string)
	for _, row := range data.Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, c := range ar.Components {
			if ti, ok := c.(*discordgo.TextInput); ok {
				values[ti.CustomID] = strings.TrimSpace(ti.Value)
			}
		}
	}
	return values
}

func handleCloseButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Validate before answering; the actual close runs detached since
	// transcript generation can outlive the interaction window.
	ticket, err := storage.DB.TicketByThread(i.ChannelID)
	if err != nil {
		respondEphemeral(s, i, lang.T("close.not_thread"))
		return
	}
	if ticket.Status == storage.StatusClosed {
		respondEphemeral(s, i, lang.T("close.already_closed"))
		return
	}

	respondPublic(s, i, lang.T("close.announce"))

	channelID := i.ChannelID
	go func() {
		if _, err := Manager.CloseByThread(channelID); err != nil {
			log.Printf("[Handlers] Close of thread %s failed: %v", channelID, err)
		}
	}()
}

func handleRating(s *discordgo.Session, i *discordgo.InteractionCreate) {
	parts := strings.Split(i.MessageComponentData().CustomID, ":")
	if len(parts) != 3 {
		return
	}
	ticketID, err1 := strconv.ParseInt(parts[1], 10, 64)
	rating, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		return
	}

	if err := Manager.Rate(ticketID, rating, ""); err != nil {
		log.Printf("[Handlers] Rating for ticket #%d failed: %v", ticketID, err)
		respondEphemeral(s, i, lang.T("error.generic"))
		return
	}
	respondEphemeral(s, i, lang.T("rating.thanks"))
}

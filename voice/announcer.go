package voice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os/exec"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonas747/ogg"

	"ticket-bot/config"
)

var errStopped = errors.New("announcer stopped")

// Announcer keeps the bot in the configured voice channel and loops a
// local announcement file into it.
type Announcer struct {
	cfg     *config.VoiceConfig
	guildID string
	stop    chan struct{}
	done    chan struct{}
}

// Start joins the voice channel and begins looping the audio file in
// the background. Stop tears everything down.
func Start(s *discordgo.Session, guildID string, cfg *config.VoiceConfig) *Announcer {
	a := &Announcer{
		cfg:     cfg,
		guildID: guildID,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.run(s)
	return a
}

func (a *Announcer) Stop() {
	close(a.stop)
	select {
	case <-a.done:
	case <-time.After(5 * time.Second):
		log.Printf("[Voice] Announcer did not stop in time")
	}
}

func (a *Announcer) stopped() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

func (a *Announcer) run(s *discordgo.Session) {
	defer close(a.done)

	for !a.stopped() {
		vc, err := s.ChannelVoiceJoin(context.Background(), a.guildID, a.cfg.ChannelID, false, true)
		if err != nil {
			log.Printf("[Voice] Join failed, retrying in 15s: %v", err)
			select {
			case <-a.stop:
				return
			case <-time.After(15 * time.Second):
			}
			continue
		}
		log.Printf("[Voice] Joined channel %s", a.cfg.ChannelID)

		for !a.stopped() {
			if err := a.playFile(vc); err != nil {
				if errors.Is(err, errStopped) {
					break
				}
				log.Printf("[Voice] Playback error: %v", err)
			}
			// Small gap between loops so the announcement does not
			// run back to back.
			select {
			case <-a.stop:
			case <-time.After(2 * time.Second):
			}
			if vc.Status != discordgo.VoiceConnectionStatusReady {
				break
			}
		}

		_ = vc.Disconnect(context.Background())
		if a.stopped() {
			return
		}
		log.Printf("[Voice] Connection dropped, rejoining")
	}
}

func (a *Announcer) playFile(vc *discordgo.VoiceConnection) error {
	ffmpegCmd := exec.Command(a.cfg.FFmpegPath,
		"-loglevel", "error",
		"-i", a.cfg.AudioFile,

		"-ar", "48000",
		"-ac", "2",

		"-c:a", "libopus",
		"-b:a", "96K",
		"-frame_duration", "20",
		"-application", "audio",
		"-vn",
		"-f", "ogg",
		"pipe:1",
	)

	ffmpegOut, err := ffmpegCmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := ffmpegCmd.Start(); err != nil {
		return err
	}
	defer func() {
		if ffmpegCmd.Process != nil {
			_ = ffmpegCmd.Process.Kill()
		}
		_ = ffmpegCmd.Wait()
	}()

	if err := vc.Speaking(true); err != nil {
		return err
	}
	defer func() { _ = vc.Speaking(false) }()

	dec := ogg.NewPacketDecoder(ogg.NewDecoder(ffmpegOut))

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if a.stopped() || vc.Status != discordgo.VoiceConnectionStatusReady {
			return errStopped
		}

		packet, _, err := dec.Decode()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if bytes.HasPrefix(packet, []byte("OpusHead")) || bytes.HasPrefix(packet, []byte("OpusTags")) {
			continue
		}
		if len(packet) == 0 {
			continue
		}

		<-ticker.C
		select {
		case vc.OpusSend <- packet:
		default:
		}
	}
}

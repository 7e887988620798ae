package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"quartermaster/internal/foxhole"
	"quartermaster/internal/scanner"
)

const webAppURL = "https://foxhole-quartermaster.com"

// Embed colours.
const (
	colourInfo    = 0x3b82f6
	colourError   = 0xef4444
	colourSuccess = 0x22c55e
	colourWarn    = 0xf59e0b
	colourMuted   = 0x6b7280
)

const (
	confirmPrefix = "scan:confirm:"
	cancelPrefix  = "scan:cancel:"
)

// afterFunc schedules scan expiry. Tests replace it to fire expiry by hand.
var afterFunc = time.AfterFunc

// ScanFlow is the scanner channel flow (implemented by scanner.Service).
type ScanFlow interface {
	IsScannerChannel(ctx context.Context, regimentID, channelID string) (bool, error)
	Begin(ctx context.Context, up scanner.Upload) (*scanner.Pending, error)
	Confirm(ctx context.Context, id, userID string) (scanner.Outcome, error)
	Cancel(id, userID string) error
	Expire(id string) bool
	ConfirmTTL() time.Duration
}

func firstImage(m *discordgo.Message) *discordgo.MessageAttachment {
	for _, a := range m.Attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			return a
		}
	}
	return nil
}

// handleScan runs the scanner flow when m carries an image in its
// regiment's scanner channel. It reports whether m was consumed.
func (b *Bot) handleScan(ctx context.Context, m *discordgo.Message) bool {
	if b.scans == nil || m.GuildID == "" {
		return false
	}
	img := firstImage(m)
	if img == nil {
		return false
	}
	ok, err := b.scans.IsScannerChannel(ctx, m.GuildID, m.ChannelID)
	if err != nil {
		b.log().Warn("scanner channel lookup failed", "guild", m.GuildID, "error", err)
		return false
	}
	if !ok {
		return false
	}

	b.log().Info("processing screenshot", "user", m.Author.Username, "guild", m.GuildID, "file", img.Filename, "size", img.Size)
	status, err := b.session.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Embeds:    []*discordgo.MessageEmbed{{Title: "Scanning...", Description: "Processing your stockpile screenshot...", Color: colourInfo}},
		Reference: m.Reference(),
	})
	if err != nil {
		b.log().Warn("scanner reply failed", "channel", m.ChannelID, "error", err)
		return true
	}

	p, err := b.scans.Begin(ctx, scanner.Upload{RegimentID: m.GuildID, UploaderID: m.Author.ID, ImageURL: img.URL})
	if err != nil {
		b.edit(status, failureEmbed(err), nil)
		return true
	}
	b.edit(status, pendingEmbed(p), scanButtons(p.ID))
	b.scheduleExpiry(p.ID, status)
	return true
}

func failureEmbed(err error) *discordgo.MessageEmbed {
	var noMatch *scanner.NoMatchError
	switch {
	case errors.As(err, &noMatch):
		desc := fmt.Sprintf("Detected **%d** item types (**%s** total crates) but couldn't match to an existing stockpile.",
			noMatch.ItemCount, foxhole.Quantity(noMatch.TotalQuantity))
		if noMatch.DetectedName != "" {
			desc += fmt.Sprintf("\n\nDetected name: **%s**", noMatch.DetectedName)
		}
		desc += "\n\nCreate this stockpile on the [web app](" + webAppURL + ") first, then try scanning again."
		return &discordgo.MessageEmbed{Title: "Stockpile Not Found", Description: desc, Color: colourWarn}
	case errors.Is(err, scanner.ErrNoItems):
		return &discordgo.MessageEmbed{
			Title:       "No Items Detected",
			Description: "No stockpile items were detected in this image. Make sure the screenshot shows a stockpile inventory screen.",
			Color:       colourWarn,
		}
	default:
		return &discordgo.MessageEmbed{Title: "Scan Failed", Description: scanner.FailureMessage(err), Color: colourError}
	}
}

func pendingEmbed(p *scanner.Pending) *discordgo.MessageEmbed {
	region := p.Stockpile.LocationName
	if region == "" {
		region = "-"
	}
	return &discordgo.MessageEmbed{
		Title: "Stockpile Scan",
		Color: colourInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Region", Value: region, Inline: true},
			{Name: "Zone", Value: p.Stockpile.Hex, Inline: true},
			{Name: "Stockpile", Value: p.Stockpile.Name},
			{Name: "Item Types", Value: fmt.Sprint(len(p.Result.Items)), Inline: true},
			{Name: "Total Crates", Value: foxhole.Quantity(p.Result.TotalQuantity), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Confirm to save or cancel to discard"},
	}
}

func scanButtons(id string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Emoji: &discordgo.ComponentEmoji{Name: "✅"}, Style: discordgo.SecondaryButton, CustomID: confirmPrefix + id},
			discordgo.Button{Emoji: &discordgo.ComponentEmoji{Name: "❌"}, Style: discordgo.SecondaryButton, CustomID: cancelPrefix + id},
		}},
	}
}

func savedEmbed(out scanner.Outcome, savedBy string) *discordgo.MessageEmbed {
	changes := "No changes from previous scan"
	if len(out.Changes) > 0 {
		changes = "```ansi\n" + scanner.RenderChanges(out.Changes) + "\n```"
	}
	return &discordgo.MessageEmbed{
		Title: "Scan Saved",
		Color: colourSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Stockpile", Value: fmt.Sprintf("%s (%s)", out.Stockpile.Name, out.Stockpile.Hex)},
			{Name: "Changes", Value: changes},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Saved by " + savedBy},
	}
}

// edit replaces msg's embed and components. nil components removes the buttons.
func (b *Bot) edit(msg *discordgo.Message, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) {
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	embeds := []*discordgo.MessageEmbed{embed}
	_, err := b.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         msg.ID,
		Channel:    msg.ChannelID,
		Embeds:     &embeds,
		Components: &components,
	})
	if err != nil {
		b.log().Warn("scanner edit failed", "message", msg.ID, "error", err)
	}
}

func (b *Bot) scheduleExpiry(id string, msg *discordgo.Message) {
	t := afterFunc(b.scans.ConfirmTTL(), func() {
		b.mu.Lock()
		delete(b.timers, id)
		b.mu.Unlock()
		if !b.scans.Expire(id) {
			return
		}
		b.edit(msg, &discordgo.MessageEmbed{
			Title:       "Scan Expired",
			Description: "The scan confirmation timed out. Upload the screenshot again to retry.",
			Color:       colourMuted,
		}, nil)
	})
	b.mu.Lock()
	b.timers[id] = t
	b.mu.Unlock()
}

func (b *Bot) cancelExpiry(id string) {
	b.mu.Lock()
	t, ok := b.timers[id]
	delete(b.timers, id)
	b.mu.Unlock()
	if ok {
		t.Stop()
	}
}

func (b *Bot) stopTimers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
}

// HandleInteraction handles the confirm and cancel buttons of a pending scan.
func (b *Bot) HandleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if b.scans == nil || i == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	switch {
	case strings.HasPrefix(customID, confirmPrefix):
		id := strings.TrimPrefix(customID, confirmPrefix)
		out, err := b.scans.Confirm(ctx, id, user.ID)
		if b.rejected(i, err) {
			return
		}
		b.cancelExpiry(id)
		if err != nil {
			b.log().Warn("scan confirm failed", "scan", id, "error", err)
			b.update(i, confirmFailedEmbed(err))
			return
		}
		b.update(i, savedEmbed(out, displayName(i, user)))
	case strings.HasPrefix(customID, cancelPrefix):
		id := strings.TrimPrefix(customID, cancelPrefix)
		if b.rejected(i, b.scans.Cancel(id, user.ID)) {
			return
		}
		b.cancelExpiry(id)
		b.update(i, &discordgo.MessageEmbed{Title: "Scan Cancelled", Description: "The scan results were discarded.", Color: colourMuted})
	}
}

// rejected answers privately when the clicker may not act on the scan.
func (b *Bot) rejected(i *discordgo.Interaction, err error) bool {
	var msg string
	switch {
	case errors.Is(err, scanner.ErrNotUploader):
		msg = "Only the person who uploaded this screenshot can confirm or cancel."
	case errors.Is(err, scanner.ErrUnknownScan):
		msg = "This scan is no longer pending."
	default:
		return false
	}
	err = b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg, Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.log().Warn("interaction respond failed", "error", err)
	}
	return true
}

func confirmFailedEmbed(err error) *discordgo.MessageEmbed {
	switch {
	case errors.Is(err, scanner.ErrNotSignedIn):
		return &discordgo.MessageEmbed{Title: "Scan Failed", Description: "You need to sign in at [foxhole-quartermaster.com](" + webAppURL + ") first.", Color: colourError}
	case errors.Is(err, scanner.ErrExpired):
		return &discordgo.MessageEmbed{Title: "Scan Expired", Description: "The scan confirmation timed out. Upload the screenshot again to retry.", Color: colourMuted}
	default:
		return &discordgo.MessageEmbed{Title: "Save Failed", Description: "Failed to save scan: " + err.Error(), Color: colourError}
	}
}

func (b *Bot) update(i *discordgo.Interaction, embed *discordgo.MessageEmbed) {
	err := b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		b.log().Warn("interaction respond failed", "error", err)
	}
}

func displayName(i *discordgo.Interaction, u *discordgo.User) string {
	if i.Member != nil && i.Member.Nick != "" {
		return i.Member.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

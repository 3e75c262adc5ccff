package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"channel-sub-bot/lifecycle"
	"channel-sub-bot/model"
	"channel-sub-bot/notify"
	"channel-sub-bot/session"
	"channel-sub-bot/store"
)

// maxListedLinks caps how many pool links are shown with delete buttons.
const maxListedLinks = 20

func (f *Flow) registerAdmin() {
	m := f.machine

	m.Command("/admin", f.adminOnly(f.panel))
	m.Action(actAdmin, f.adminOnly(f.panel))

	f.registerModeration()

	m.Action(actAdmSettings, f.adminOnly(f.settings))
	m.Action(actSetEdit, f.adminOnly(f.editSetting))
	adminStep(f, session.KindText, f.receiveSettingValue)

	m.Action(actAdmMethods, f.adminOnly(f.methods))
	m.Action(actPmAdd, f.adminOnly(f.addMethod))
	m.Action(actPmEdit, f.adminOnly(f.editMethod))
	adminStep(f, session.KindText, f.receiveMethodName)
	adminStep(f, session.KindText, f.receiveMethodDestination)
	adminStep(f, session.KindText, f.methodNotConfirmed)
	m.Action(actPmSave, f.adminOnly(f.saveMethod))
	m.Action(actPmDel, f.adminOnly(f.deleteMethod))
	m.Action(actPmDelOK, f.adminOnly(f.deleteMethodConfirmed))

	m.Action(actAdmLinks, f.adminOnly(f.links))
	m.Action(actLinksAdd, f.adminOnly(f.addLinks))
	adminStep(f, session.KindText, f.receiveLinks)
	m.Action(actLinkDel, f.adminOnly(f.deleteLink))
	m.Action(actLinkDelOK, f.adminOnly(f.deleteLinkConfirmed))

	m.Action(actAdmBroadcast, f.adminOnly(f.broadcast))
	adminStep(f, session.KindText, f.receiveBroadcastText)

	m.Action(actAdmMessage, f.adminOnly(f.message))
	m.Action(actReplyTo, f.adminOnly(f.replyTo))
	adminStep(f, session.KindText, f.receiveTargetID)
	adminStep(f, session.KindText, f.receiveTargetText)
}

func (f *Flow) panel(ctx context.Context, ev session.Event, _ session.Step) error {
	f.sessions.Reset(ev.SenderID)
	f.say(ctx, ev.SenderID, "🛠 Admin panel", adminMenu())
	return nil
}

func (f *Flow) settings(ctx context.Context, ev session.Event, _ session.Step) error {
	values, err := f.store.Settings(ctx)
	if err != nil {
		return f.internalError(ctx, ev, "list settings", err)
	}

	var b strings.Builder
	b.WriteString("⚙️ Settings\n")
	for _, k := range model.SettingKeys {
		fmt.Fprintf(&b, "\n%s: %s", settingLabel(k), values[k])
	}
	f.say(ctx, ev.SenderID, b.String(), settingsMenu())
	return nil
}

func (f *Flow) editSetting(ctx context.Context, ev session.Event, _ session.Step) error {
	if !slices.Contains(model.SettingKeys, ev.Data) {
		return nil
	}
	current, err := f.store.Setting(ctx, ev.Data)
	if err != nil {
		return f.internalError(ctx, ev, "read setting", err)
	}
	f.sessions.Set(ev.SenderID, session.SettingValue{Key: ev.Data})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Send the new %s (current: %s):", settingLabel(ev.Data), current), cancelOnly())
	return nil
}

func (f *Flow) receiveSettingValue(ctx context.Context, ev session.Event, step session.SettingValue) error {
	v, err := f.engine.UpdateSetting(ctx, step.Key, ev.Text)
	if errors.Is(err, lifecycle.ErrInvalidSetting) {
		f.say(ctx, ev.SenderID, "Please send a non-negative number, for example 5 or 2.50:", cancelOnly())
		return nil
	}
	f.sessions.Reset(ev.SenderID)
	if err != nil {
		return f.internalError(ctx, ev, "update setting", err)
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("✅ %s set to %s.", settingLabel(step.Key), v), adminMenu())
	return nil
}

func (f *Flow) methods(ctx context.Context, ev session.Event, _ session.Step) error {
	list, err := f.store.PaymentMethods(ctx)
	if err != nil {
		return f.internalError(ctx, ev, "list payment methods", err)
	}

	var b strings.Builder
	b.WriteString("🏦 Payment methods")
	if len(list) == 0 {
		b.WriteString("\n\nNone yet.")
	}
	kb := notify.Keyboard{}
	for _, m := range list {
		fmt.Fprintf(&b, "\n\n#%d %s\n%s", m.ID, m.Name, m.Destination)
		kb = append(kb, notify.Row(btn("✏️ "+m.Name, actPmEdit, m.ID), btn("🗑 "+m.Name, actPmDel, m.ID)))
	}
	kb = append(kb, notify.Row(btn("➕ Add method", actPmAdd)))

	f.say(ctx, ev.SenderID, b.String(), kb)
	return nil
}

func (f *Flow) addMethod(ctx context.Context, ev session.Event, _ session.Step) error {
	f.sessions.Set(ev.SenderID, session.MethodName{})
	f.say(ctx, ev.SenderID, "Send the name of the new payment method:", cancelOnly())
	return nil
}

func (f *Flow) editMethod(ctx context.Context, ev session.Event, _ session.Step) error {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil
	}
	m, err := f.store.PaymentMethod(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, "That payment method no longer exists.", nil)
		return nil
	}
	if err != nil {
		return f.internalError(ctx, ev, "get payment method", err)
	}
	f.sessions.Set(ev.SenderID, session.MethodName{MethodID: m.ID})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Editing %q. Send the new name:", m.Name), cancelOnly())
	return nil
}

func (f *Flow) receiveMethodName(ctx context.Context, ev session.Event, step session.MethodName) error {
	name := strings.TrimSpace(ev.Text)
	if name == "" {
		f.say(ctx, ev.SenderID, "The name cannot be empty. Send it again:", cancelOnly())
		return nil
	}
	f.sessions.Set(ev.SenderID, session.MethodDestination{MethodID: step.MethodID, Name: name})
	f.say(ctx, ev.SenderID, "Send the destination users should pay to (address, barcode or link):", cancelOnly())
	return nil
}

func (f *Flow) receiveMethodDestination(ctx context.Context, ev session.Event, step session.MethodDestination) error {
	dest := strings.TrimSpace(ev.Text)
	if dest == "" {
		f.say(ctx, ev.SenderID, "The destination cannot be empty. Send it again:", cancelOnly())
		return nil
	}
	f.sessions.Set(ev.SenderID, session.MethodConfirmation{MethodID: step.MethodID, Name: step.Name, Destination: dest})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Save this payment method?\n\nName: %s\nDestination: %s", step.Name, dest),
		notify.Keyboard{notify.Row(btn("💾 Save", actPmSave), cancelButton)})
	return nil
}

func (f *Flow) methodNotConfirmed(ctx context.Context, ev session.Event, _ session.MethodConfirmation) error {
	f.say(ctx, ev.SenderID, "Press Save to keep the payment method, or Cancel to discard it.", nil)
	return nil
}

func (f *Flow) saveMethod(ctx context.Context, ev session.Event, step session.Step) error {
	st, ok := step.(session.MethodConfirmation)
	if !ok {
		return nil
	}
	f.sessions.Reset(ev.SenderID)

	var err error
	if st.MethodID == 0 {
		_, err = f.store.CreatePaymentMethod(ctx, st.Name, st.Destination)
	} else {
		err = f.store.UpdatePaymentMethod(ctx, st.MethodID, st.Name, st.Destination)
	}
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, "That payment method was deleted in the meantime.", adminMenu())
		return nil
	}
	if err != nil {
		return f.internalError(ctx, ev, "save payment method", err)
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("✅ Payment method %q saved.", st.Name), adminMenu())
	return nil
}

func (f *Flow) deleteMethod(ctx context.Context, ev session.Event, _ session.Step) error {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("Delete payment method #%d? Existing payments keep their reference.", id), confirmMenu(actPmDelOK, id))
	return nil
}

func (f *Flow) deleteMethodConfirmed(ctx context.Context, ev session.Event, _ session.Step) error {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil
	}
	err := f.store.DeletePaymentMethod(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, "That payment method was already deleted.", nil)
		return nil
	}
	if err != nil {
		return f.internalError(ctx, ev, "delete payment method", err)
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("🗑 Payment method #%d deleted.", id), adminMenu())
	return nil
}

func (f *Flow) links(ctx context.Context, ev session.Event, _ session.Step) error {
	list, err := f.store.ChannelLinks(ctx)
	if err != nil {
		return f.internalError(ctx, ev, "list channel links", err)
	}

	kb := notify.Keyboard{}
	for i, l := range list {
		if i == maxListedLinks {
			break
		}
		kb = append(kb, notify.Row(btn("🗑 "+l.Link, actLinkDel, l.ID)))
	}
	kb = append(kb, notify.Row(btn("➕ Add links", actLinksAdd)))

	f.say(ctx, ev.SenderID, fmt.Sprintf("🔗 %d unused invite links in the pool.", len(list)), kb)
	return nil
}

func (f *Flow) addLinks(ctx context.Context, ev session.Event, _ session.Step) error {
	f.sessions.Set(ev.SenderID, session.InviteLinks{})
	f.say(ctx, ev.SenderID, "Send the invite links, one per line:", cancelOnly())
	return nil
}

// parseLinks keeps the lines that look like links.
func parseLinks(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") {
			out = append(out, line)
		}
	}
	return out
}

func (f *Flow) receiveLinks(ctx context.Context, ev session.Event, _ session.InviteLinks) error {
	links := parseLinks(ev.Text)
	if len(links) == 0 {
		f.say(ctx, ev.SenderID, "No links found. Each line must start with http. Send them again:", cancelOnly())
		return nil
	}
	f.sessions.Reset(ev.SenderID)

	added, err := f.store.AddChannelLinks(ctx, links)
	if err != nil {
		return f.internalError(ctx, ev, "add channel links", err)
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("✅ Added %d links, skipped %d duplicates.", added, len(links)-added), adminMenu())
	return nil
}

func (f *Flow) deleteLink(ctx context.Context, ev session.Event, _ session.Step) error {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("Delete invite link #%d?", id), confirmMenu(actLinkDelOK, id))
	return nil
}

func (f *Flow) deleteLinkConfirmed(ctx context.Context, ev session.Event, _ session.Step) error {
	id, ok := parseID(ev.Data)
	if !ok {
		return nil
	}
	err := f.store.DeleteChannelLink(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f.say(ctx, ev.SenderID, "That link is already gone.", nil)
		return nil
	}
	if err != nil {
		return f.internalError(ctx, ev, "delete channel link", err)
	}
	f.say(ctx, ev.SenderID, "🗑 Link deleted.", adminMenu())
	return nil
}

func (f *Flow) broadcast(ctx context.Context, ev session.Event, _ session.Step) error {
	f.sessions.Set(ev.SenderID, session.BroadcastText{})
	f.say(ctx, ev.SenderID, "Send the message to broadcast to every user:", cancelOnly())
	return nil
}

func (f *Flow) receiveBroadcastText(ctx context.Context, ev session.Event, _ session.BroadcastText) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		f.say(ctx, ev.SenderID, "The message cannot be empty. Send it again:", cancelOnly())
		return nil
	}
	f.sessions.Reset(ev.SenderID)

	ids, err := f.store.UserIDs(ctx)
	if err != nil {
		return f.internalError(ctx, ev, "list users", err)
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("📢 Broadcasting to %d users...", len(ids)), nil)

	rep := f.notifier.Broadcast(ctx, ids, notify.Text(text, nil))
	if rep.Halted {
		f.say(ctx, ev.SenderID, fmt.Sprintf("⚠️ Broadcast stopped early because too many deliveries failed. Delivered to %d of %d users (%d attempted).",
			rep.Succeeded, rep.Total, rep.Attempted), adminMenu())
		return nil
	}
	f.say(ctx, ev.SenderID, fmt.Sprintf("✅ Broadcast finished. Delivered to %d of %d users.", rep.Succeeded, rep.Total), adminMenu())
	return nil
}

func (f *Flow) message(ctx context.Context, ev session.Event, _ session.Step) error {
	f.sessions.Set(ev.SenderID, session.TargetID{})
	f.say(ctx, ev.SenderID, "Send the user id to message:", cancelOnly())
	return nil
}

func (f *Flow) replyTo(ctx context.Context, ev session.Event, _ session.Step) error {
	target, err := strconv.ParseInt(ev.Data, 10, 64)
	if err != nil {
		return nil
	}
	f.sessions.Set(ev.SenderID, session.TargetText{TargetID: target})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Send your reply to %d:", target), cancelOnly())
	return nil
}

func (f *Flow) receiveTargetID(ctx context.Context, ev session.Event, _ session.TargetID) error {
	target, err := strconv.ParseInt(strings.TrimSpace(ev.Text), 10, 64)
	if err != nil || target <= 0 {
		f.say(ctx, ev.SenderID, "That is not a valid user id. Send a number:", cancelOnly())
		return nil
	}
	f.sessions.Set(ev.SenderID, session.TargetText{TargetID: target})
	f.say(ctx, ev.SenderID, fmt.Sprintf("Send the message for %d:", target), cancelOnly())
	return nil
}

func (f *Flow) receiveTargetText(ctx context.Context, ev session.Event, step session.TargetText) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		f.say(ctx, ev.SenderID, "The message cannot be empty. Send it again:", cancelOnly())
		return nil
	}
	f.sessions.Reset(ev.SenderID)

	err := f.notifier.NotifyUser(ctx, step.TargetID, notify.Text("✉️ Message from support:\n\n"+text, nil))
	switch {
	case err == nil:
		f.say(ctx, ev.SenderID, "✅ Message delivered.", adminMenu())
	case errors.Is(err, notify.ErrBlocked):
		f.say(ctx, ev.SenderID, "The user has blocked the bot.", adminMenu())
	case errors.Is(err, notify.ErrUnknownRecipient):
		f.say(ctx, ev.SenderID, "No chat with that user was found.", adminMenu())
	default:
		f.say(ctx, ev.SenderID, "The message could not be delivered.", adminMenu())
	}
	return nil
}

package flow

import (
	"fmt"
	"strconv"

	"channel-sub-bot/model"
	"channel-sub-bot/notify"
)

// Button actions. Each maps to exactly one registered handler.
const (
	actSubscribe = "menu_subscribe"
	actReferral  = "menu_referral"
	actBalance   = "menu_balance"
	actWithdraw  = "menu_withdraw"
	actSupport   = "menu_support"
	actPayMethod = "paymethod"
	actWdMethod  = "wd_method"
	actWdConfirm = "wd_confirm"
	actWdEdit    = "wd_edit"
	actCancel    = "cancel"

	actAdmin          = "adm_panel"
	actAdmPayments    = "adm_payments"
	actAdmWithdrawals = "adm_withdrawals"
	actAdmSettings    = "adm_settings"
	actAdmMethods     = "adm_methods"
	actAdmLinks       = "adm_links"
	actAdmBroadcast   = "adm_broadcast"
	actAdmMessage     = "adm_message"
	actReplyTo        = "reply_to"
	actApprove        = "approve"
	actReject         = "reject"
	actRejectOK       = "reject_ok"
	actPay            = "pay"
	actCancelW        = "cancel_w"
	actCancelWOK      = "cancel_w_ok"
	actInquiry        = "inquiry"
	actSetEdit        = "set_edit"
	actPmAdd          = "pm_add"
	actPmEdit         = "pm_edit"
	actPmDel          = "pm_del"
	actPmDelOK        = "pm_del_ok"
	actPmSave         = "pm_save"
	actLinksAdd       = "links_add"
	actLinkDel        = "link_del"
	actLinkDelOK      = "link_del_ok"
)

func btn(text, action string, data ...any) notify.Button {
	b := notify.Button{Text: text, Action: action}
	if len(data) > 0 {
		b.Data = fmt.Sprint(data[0])
	}
	return b
}

var cancelButton = btn("✖️ Cancel", actCancel)

func cancelOnly() notify.Keyboard {
	return notify.Keyboard{notify.Row(cancelButton)}
}

func mainMenu(admin bool) notify.Keyboard {
	kb := notify.Keyboard{
		notify.Row(btn("💳 Subscribe", actSubscribe)),
		notify.Row(btn("🔗 Referral link", actReferral), btn("💰 Balance", actBalance)),
		notify.Row(btn("💸 Withdraw", actWithdraw), btn("🆘 Support", actSupport)),
	}
	if admin {
		kb = append(kb, notify.Row(btn("🛠 Admin panel", actAdmin)))
	}
	return kb
}

func adminMenu() notify.Keyboard {
	return notify.Keyboard{
		notify.Row(btn("🧾 Pending payments", actAdmPayments), btn("💸 Pending withdrawals", actAdmWithdrawals)),
		notify.Row(btn("⚙️ Settings", actAdmSettings), btn("🏦 Payment methods", actAdmMethods)),
		notify.Row(btn("🔗 Invite links", actAdmLinks)),
		notify.Row(btn("📢 Broadcast", actAdmBroadcast), btn("✉️ Message a user", actAdmMessage)),
	}
}

func paymentMethodsMenu(methods []model.PaymentMethod) notify.Keyboard {
	kb := make(notify.Keyboard, 0, len(methods)+1)
	for _, m := range methods {
		kb = append(kb, notify.Row(btn(m.Name, actPayMethod, m.ID)))
	}
	return append(kb, notify.Row(cancelButton))
}

func withdrawMethodsMenu() notify.Keyboard {
	return notify.Keyboard{
		notify.Row(btn(model.MethodShamCash.Label(), actWdMethod, model.MethodShamCash)),
		notify.Row(btn(model.MethodUSDT.Label(), actWdMethod, model.MethodUSDT)),
		notify.Row(cancelButton),
	}
}

func withdrawConfirmMenu() notify.Keyboard {
	return notify.Keyboard{
		notify.Row(btn("✅ Confirm", actWdConfirm), btn("✏️ Edit", actWdEdit)),
		notify.Row(cancelButton),
	}
}

func paymentModerationMenu(id uint) notify.Keyboard {
	return notify.Keyboard{
		notify.Row(btn("✅ Approve", actApprove, id), btn("❌ Reject", actReject, id)),
	}
}

func withdrawalModerationMenu(w model.Withdrawal) notify.Keyboard {
	return notify.Keyboard{
		notify.Row(btn("✅ Paid", actPay, w.ID), btn("❌ Cancel request", actCancelW, w.ID)),
		notify.Row(btn("🔎 User info", actInquiry, w.UserID)),
	}
}

func confirmMenu(action string, id any) notify.Keyboard {
	return notify.Keyboard{
		notify.Row(btn("Yes", action, id), cancelButton),
	}
}

func settingsMenu() notify.Keyboard {
	kb := make(notify.Keyboard, 0, len(model.SettingKeys))
	for _, k := range model.SettingKeys {
		kb = append(kb, notify.Row(btn("Edit "+settingLabel(k), actSetEdit, k)))
	}
	return kb
}

func settingLabel(key string) string {
	switch key {
	case model.SettingSubscriptionPrice:
		return "subscription price"
	case model.SettingReferralReward:
		return "referral reward"
	case model.SettingMinWithdraw:
		return "minimum withdrawal"
	}
	return key
}

func parseID(data string) (uint, bool) {
	id, err := strconv.ParseUint(data, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

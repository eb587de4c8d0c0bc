package notify

import (
	"fmt"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/service/directcall"
	"callhub-backend/internal/service/groupcall"
)

// Tone is a one-shot notification sound.
type Tone string

const (
	ToneNone        Tone = ""
	ToneHangup      Tone = "hangup"
	ToneUnavailable Tone = "unavailable"
	ToneGroupStart  Tone = "group_start"
)

// Effect is the set of user-facing side effects a call transition should
// drive. It is computed purely from the transition and the user's
// settings; applying it (looping the ringtone, showing the toast,
// escalating to push) is the caller's job. Keeping this mapping free of
// state is what makes the ring/stop-ring pairing auditable: every path
// that starts a ring has a transition whose effect stops it.
type Effect struct {
	// Ring starts the looping incoming-call alert. Audible only when the
	// user's sound setting allows; the visual alert always shows.
	Ring bool
	// RingAudible gates the ringtone sound, never the alert itself.
	RingAudible bool
	// StopRing cancels a looping alert, local ringback included.
	StopRing bool
	// Tone plays a one-shot sound.
	Tone Tone
	// Toast is a transient status message, empty for none.
	Toast string
	// Push escalates the alert to a push notification for recipients
	// with no live subscription.
	Push bool
}

// ForDirectEvent maps a 1:1 call transition to its side effects.
func ForDirectEvent(kind directcall.EventKind, record domain.DirectCall, settings domain.CallSettings) Effect {
	switch kind {
	case directcall.EventIncoming:
		return Effect{
			Ring:        true,
			RingAudible: settings.SoundEnabled,
			Push:        true,
		}

	case directcall.EventAutoRejected:
		// The whole point of DND: the record is already rejected and
		// nothing here may alert the user.
		return Effect{}

	case directcall.EventRingingCancelled:
		return Effect{
			StopRing: true,
			Toast:    fmt.Sprintf("Missed call from %s", callerLabel(record)),
		}

	case directcall.EventRemoteAccepted:
		return Effect{StopRing: true}

	case directcall.EventUnavailable:
		return Effect{
			StopRing: true,
			Tone:     ToneUnavailable,
			Toast:    "Not available right now",
		}

	case directcall.EventRemoteEnded:
		return Effect{
			StopRing: true,
			Tone:     ToneHangup,
		}

	case directcall.EventJoinFailed:
		return Effect{
			StopRing: true,
			Toast:    "Could not connect to the call",
		}

	case directcall.EventConnected:
		return Effect{StopRing: true}
	}

	return Effect{}
}

// ForGroupEvent maps a group call transition to its side effects. Group
// calls never ring; an active call in one of the user's groups surfaces
// as a tone and a banner, not an incoming-call alert.
func ForGroupEvent(kind groupcall.EventKind, record domain.GroupCall, settings domain.CallSettings) Effect {
	switch kind {
	case groupcall.EventStarted:
		if settings.IsDND {
			return Effect{}
		}
		effect := Effect{
			Toast: fmt.Sprintf("Call started in %s", groupLabel(record)),
			Push:  true,
		}
		if settings.SoundEnabled {
			effect.Tone = ToneGroupStart
		}
		return effect

	case groupcall.EventEnded:
		return Effect{Tone: ToneHangup}

	case groupcall.EventJoinFailed:
		return Effect{Toast: "Could not connect to the call"}
	}

	return Effect{}
}

func callerLabel(record domain.DirectCall) string {
	if record.CallerDisplayName != "" {
		return record.CallerDisplayName
	}
	return record.CallerAddress
}

func groupLabel(record domain.GroupCall) string {
	if record.GroupName != "" {
		return record.GroupName
	}
	return record.GroupID
}

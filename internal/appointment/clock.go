package appointment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// SystemClock reads wall time in UTC.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator issues record identities and human-readable appointment numbers.
// Numbers are a display convenience; uniqueness comes from the id.
type IDGenerator interface {
	NewID() uuid.UUID
	Number(now time.Time) string
}

type randomIDs struct{}

func RandomIDs() IDGenerator { return randomIDs{} }

func (randomIDs) NewID() uuid.UUID { return uuid.New() }

// Number formats APT-<base36 unix seconds>-<4 digit suffix>.
func (randomIDs) Number(now time.Time) string {
	return fmt.Sprintf("APT-%s-%04d", strings.ToUpper(strconv.FormatInt(now.Unix(), 36)), rand.IntN(10000))
}

type IntentKind string

const (
	IntentReminder24h   IntentKind = "reminder_24h"
	IntentReminder2h    IntentKind = "reminder_2h"
	IntentVoid          IntentKind = "void"
	IntentWaitlistOffer IntentKind = "waitlist_offer"
)

// Intent asks the notification collaborator to deliver (or void) a message.
type Intent struct {
	ID            uuid.UUID
	Kind          IntentKind
	AppointmentID *uuid.UUID
	TargetID      uuid.UUID
	Channel       string
	ScheduledFor  time.Time
	Message       string
}

// NotificationSink receives intents. Delivery is out of the engine's hands.
type NotificationSink interface {
	Emit(ctx context.Context, intent Intent) error
}

type reminderOffset struct {
	kind    IntentKind
	before  time.Duration
	channel string
}

var reminderOffsets = []reminderOffset{
	{IntentReminder24h, 24 * time.Hour, "email"},
	{IntentReminder2h, 2 * time.Hour, "sms"},
}

package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Activity identifies a controllable activity on the platform.
type Activity int

const (
	ActivityInternet    Activity = 1
	ActivityComputer    Activity = 2
	ActivityGaming      Activity = 3
	ActivityMessage     Activity = 4
	ActivityJunkFood    Activity = 5
	ActivityLollies     Activity = 6
	ActivityElectricity Activity = 7
	ActivityScreenTime  Activity = 8
	ActivitySocial      Activity = 9
	ActivityPhoneTime   Activity = 10
)

var activityNames = map[Activity]string{
	ActivityInternet:    "Internet",
	ActivityComputer:    "Computer",
	ActivityGaming:      "Gaming",
	ActivityMessage:     "Message",
	ActivityJunkFood:    "JunkFood",
	ActivityLollies:     "Lollies",
	ActivityElectricity: "Electricity",
	ActivityScreenTime:  "ScreenTime",
	ActivitySocial:      "Social",
	ActivityPhoneTime:   "PhoneTime",
}

func (a Activity) String() string {
	if name, ok := activityNames[a]; ok {
		return name
	}
	return "Activity(" + strconv.Itoa(int(a)) + ")"
}

// ParseActivity accepts a numeric id or a case-insensitive activity name.
func ParseActivity(s string) (Activity, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid activity id %d", n)
		}
		return Activity(n), nil
	}
	for a, name := range activityNames {
		if strings.EqualFold(name, s) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown activity %q", s)
}

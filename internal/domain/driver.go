package domain

// DriverStatus represents the availability of a driver as reported by the feed.
type DriverStatus string

const (
	DriverStatusOnline  DriverStatus = "online"
	DriverStatusOffline DriverStatus = "offline"
	DriverStatusBusy    DriverStatus = "busy"
)

// ParseDriverStatus returns the status for s, or false if s is unknown.
func ParseDriverStatus(s string) (DriverStatus, bool) {
	switch DriverStatus(s) {
	case DriverStatusOnline, DriverStatusOffline, DriverStatusBusy:
		return DriverStatus(s), true
	}
	return "", false
}

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// DriverAvailability is the record consumed by dispatch to decide eligibility.
type DriverAvailability struct {
	DriverID        string
	Status          DriverStatus
	CurrentLocation *GeoPoint
}

// IsOnline reports whether the driver can be offered or claim work.
func (a *DriverAvailability) IsOnline() bool {
	return a != nil && a.Status == DriverStatusOnline
}

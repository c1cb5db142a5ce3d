package config

// Hard defaults applied when neither the service nor its group sets a value.
const (
	DefaultThresholdSeconds = 300
	DefaultUptimeThresholds = "default"
)

// Effective is the fully resolved configuration for one service, with all
// group defaults folded down to concrete values. Rebuilt from static config
// on every evaluation cycle; never persisted.
type Effective struct {
	ServiceID        string
	Name             string
	Enabled          bool
	ThresholdSeconds int
	AuthRequired     bool
	NotifyEnabled    bool
	NotifyChannels   []string
	NotifyEvents     []string
	UptimeThresholds string
	GroupID          string
	GroupName        string
}

// Merge resolves effective per-service configuration by layering group
// defaults under service overrides. Services referencing no group, or a group
// that does not list them, fall back to ungrouped defaults. Pure.
func Merge(services []Service, groups []Group) []Effective {
	owner := make(map[string]*Group)
	for i := range groups {
		for _, member := range groups[i].Members {
			if _, taken := owner[member]; !taken {
				owner[member] = &groups[i]
			}
		}
	}

	out := make([]Effective, 0, len(services))
	for _, svc := range services {
		grp := owner[svc.ID]

		eff := Effective{
			ServiceID:        svc.ID,
			Name:             svc.Name,
			Enabled:          svc.Enabled == nil || *svc.Enabled,
			ThresholdSeconds: DefaultThresholdSeconds,
			AuthRequired:     true,
			NotifyEnabled:    true,
			UptimeThresholds: DefaultUptimeThresholds,
		}
		if eff.Name == "" {
			eff.Name = svc.ID
		}
		if grp != nil {
			eff.GroupID = grp.ID
			eff.GroupName = grp.Name
			if grp.StalenessThreshold > 0 {
				eff.ThresholdSeconds = grp.StalenessThreshold
			}
			if grp.AuthRequired != nil {
				eff.AuthRequired = *grp.AuthRequired
			}
			if grp.UptimeThresholds != "" {
				eff.UptimeThresholds = grp.UptimeThresholds
			}
			applyNotify(&eff, grp.Notifications)
		}

		if svc.StalenessThreshold > 0 {
			eff.ThresholdSeconds = svc.StalenessThreshold
		}
		if svc.AuthRequired != nil {
			eff.AuthRequired = *svc.AuthRequired
		}
		if svc.UptimeThresholds != "" {
			eff.UptimeThresholds = svc.UptimeThresholds
		}
		applyNotify(&eff, svc.Notifications)

		out = append(out, eff)
	}
	return out
}

func applyNotify(eff *Effective, n *NotifySettings) {
	if n == nil {
		return
	}
	if n.Enabled != nil {
		eff.NotifyEnabled = *n.Enabled
	}
	if len(n.Channels) > 0 {
		eff.NotifyChannels = append([]string(nil), n.Channels...)
	}
	if len(n.Events) > 0 {
		eff.NotifyEvents = append([]string(nil), n.Events...)
	}
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/vorlif/humanize"
	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/waybar-bike/internal/bike"
	"github.com/wneessen/waybar-bike/internal/config"
	"github.com/wneessen/waybar-bike/internal/geo"
	"github.com/wneessen/waybar-bike/internal/i18n"
	"github.com/wneessen/waybar-bike/internal/tracking"
)

// recentRefuels is the number of refuel records exposed to the templates.
const recentRefuels = 5

// TemplateContext is the data every status template is rendered with.
type TemplateContext struct {
	Bike     bike.Bike
	Settings bike.Settings
	State    bike.State
	Derived  bike.Derived
	Location tracking.LocationState

	FuelIcon  string
	GPSStatus string

	HasPosition bool
	Latitude    float64
	Longitude   float64
	SunriseTime time.Time
	SunsetTime  time.Time

	HasRefuel     bool
	LastRefuel    bike.RefuelRecord
	RecentRefuels []bike.RefuelRecord
	RefuelCount   int

	UpdateTime time.Time
}

type Presenter struct {
	TextTemplate       *template.Template
	AltTextTemplate    *template.Template
	TooltipTemplate    *template.Template
	AltTooltipTemplate *template.Template

	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

// New parses the configured templates and verifies that each of them renders against a
// sample context.
func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	humanizer, err := i18n.NewHumanizer(loc.Language())
	if err != nil {
		return nil, err
	}
	pres := &Presenter{
		localizer: loc,
		humanizer: humanizer,
	}

	templates := []struct {
		name   string
		text   string
		target **template.Template
	}{
		{"text", conf.Templates.Text, &pres.TextTemplate},
		{"alt_text", conf.Templates.AltText, &pres.AltTextTemplate},
		{"tooltip", conf.Templates.Tooltip, &pres.TooltipTemplate},
		{"alt_tooltip", conf.Templates.AltTooltip, &pres.AltTooltipTemplate},
	}
	for _, tpl := range templates {
		parsed, err := template.New(tpl.name).Funcs(pres.templateFuncMap()).Parse(tpl.text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", tpl.name, err)
		}
		*tpl.target = parsed
	}

	sample := pres.BuildContext(sampleSnapshot(conf), tracking.LocationState{}, geo.Point{}, false, time.Now())
	if _, err = pres.Render(sample); err != nil {
		return nil, err
	}
	return pres, nil
}

// BuildContext assembles the template context from an engine snapshot and the location state.
func (p *Presenter) BuildContext(snap bike.Snapshot, loc tracking.LocationState, pos geo.Point, hasPos bool,
	now time.Time,
) TemplateContext {
	ctx := TemplateContext{
		Bike:        snap.Bike,
		Settings:    snap.Settings,
		State:       snap.State,
		Derived:     snap.Derived,
		Location:    loc,
		FuelIcon:    fuelIcon(snap.Derived),
		GPSStatus:   p.gpsStatus(loc),
		HasPosition: hasPos,
		RefuelCount: len(snap.History),
		UpdateTime:  now,
	}
	if hasPos {
		ctx.Latitude = pos.Lat
		ctx.Longitude = pos.Lon
		ctx.SunriseTime, ctx.SunsetTime = sunrise.SunriseSunset(pos.Lat, pos.Lon, now.Year(), now.Month(),
			now.Day())
	}
	if len(snap.History) > 0 {
		ctx.HasRefuel = true
		ctx.LastRefuel = snap.History[0]
		ctx.RecentRefuels = snap.History[:min(recentRefuels, len(snap.History))]
	}
	return ctx
}

// Render executes all templates and returns their output keyed by template name.
func (p *Presenter) Render(ctx TemplateContext) (map[string]string, error) {
	templates := []*template.Template{p.TextTemplate, p.AltTextTemplate, p.TooltipTemplate, p.AltTooltipTemplate}
	output := make(map[string]string, len(templates))
	for _, tpl := range templates {
		buf := bytes.NewBuffer(nil)
		if err := tpl.Execute(buf, ctx); err != nil {
			return nil, fmt.Errorf("failed to render %s template: %w", tpl.Name(), err)
		}
		output[tpl.Name()] = buf.String()
	}
	return output, nil
}

// Localize translates a message through the configured localizer.
func (p *Presenter) Localize(msg string) string {
	return p.localizer.Get(localize.MsgID(msg))
}

func (p *Presenter) gpsStatus(loc tracking.LocationState) string {
	if loc.Error != "" {
		return p.Localize(loc.Error)
	}
	return p.localizer.Get(permissionStatus[loc.Permission])
}

func fuelIcon(derived bike.Derived) string {
	switch {
	case derived.FuelPercentage <= 0:
		return fuelIcons[fuelLevelEmpty]
	case derived.IsReserve:
		return fuelIcons[fuelLevelReserve]
	default:
		return fuelIcons[fuelLevelFull]
	}
}

func sampleSnapshot(conf *config.Config) bike.Snapshot {
	b := conf.BikeProfile()
	settings := conf.DefaultSettings()
	state := bike.State{CurrentFuelL: b.TankCapacityL}
	return bike.Snapshot{
		Bike:     b,
		Settings: settings,
		State:    state,
		History: bike.History{{
			ID:        "sample",
			Timestamp: time.Now(),
			Liters:    b.TankCapacityL,
		}},
		Derived: bike.Derive(b, settings, state),
	}
}

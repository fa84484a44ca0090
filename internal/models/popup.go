package models

import (
	"strings"
	"time"
)

// Popup statuses.
const (
	PopupStatusActive   = "active"
	PopupStatusInactive = "inactive"
	PopupStatusDraft    = "draft"
	PopupStatusArchived = "archived"
)

// Popup triggers.
const (
	TriggerOnPageLoad = "on_page_load"
	TriggerOnScroll   = "on_scroll"
	TriggerOnClick    = "on_click"
)

// PopupMetrics holds the counters reported by the storefront script.
type PopupMetrics struct {
	Impressions    int64      `gorm:"not null;default:0" json:"impressions"`
	Clicks         int64      `gorm:"not null;default:0" json:"clicks"`
	ConversionRate float64    `gorm:"not null;default:0" json:"conversion_rate"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
}

// Recalculate refreshes ConversionRate from the counters as a percentage.
func (m *PopupMetrics) Recalculate() {
	m.ConversionRate = ConversionRate(m.Clicks, m.Impressions)
}

// ConversionRate returns clicks over impressions as a percentage, 0 without impressions.
func ConversionRate(clicks, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return float64(clicks) / float64(impressions) * 100
}

// Popup is an on-site promotional overlay owned by a shop.
type Popup struct {
	BaseModel

	ShopDomain      string `gorm:"size:255;not null;index" json:"shop"`
	Title           string `gorm:"size:255;not null" json:"title"`
	Content         string `gorm:"type:text" json:"content"`
	Status          string `gorm:"size:20;not null;index" json:"status"`
	Trigger         string `gorm:"size:20;not null" json:"trigger"`
	Duration        int    `gorm:"not null" json:"duration"`
	Position        string `gorm:"size:20;not null" json:"position"`
	Animation       string `gorm:"size:20;not null" json:"animation"`
	BackgroundColor string `gorm:"size:7;not null" json:"background_color"`
	TextColor       string `gorm:"size:7;not null" json:"text_color"`
	ButtonColor     string `gorm:"size:7;not null" json:"button_color"`
	ButtonTextColor string `gorm:"size:7;not null" json:"button_text_color"`
	CookieDuration  int    `gorm:"not null" json:"cookie_duration"`
	IsDismissable   bool   `gorm:"not null" json:"is_dismissable"`
	ShowCloseButton bool   `gorm:"not null" json:"show_close_button"`
	ZIndex          int    `gorm:"not null" json:"z_index"`

	Metrics PopupMetrics `gorm:"embedded;embeddedPrefix:metrics_" json:"metrics"`
}

// Normalise lower-cases enum fields and upper-cases colour codes.
func (p *Popup) Normalise() {
	p.Title = strings.TrimSpace(p.Title)
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	p.Trigger = strings.ToLower(strings.TrimSpace(p.Trigger))
	p.Position = strings.ToLower(strings.TrimSpace(p.Position))
	p.Animation = strings.ToLower(strings.TrimSpace(p.Animation))
	p.BackgroundColor = strings.ToUpper(p.BackgroundColor)
	p.TextColor = strings.ToUpper(p.TextColor)
	p.ButtonColor = strings.ToUpper(p.ButtonColor)
	p.ButtonTextColor = strings.ToUpper(p.ButtonTextColor)
}

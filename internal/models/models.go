package models

import "time"

type Plan string

const (
	PlanFree  Plan = "free"
	PlanTrial Plan = "plus_trial"
	PlanMonth Plan = "plus_month"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type User struct {
	TelegramID        int64
	DailyTokens       int64
	LastReset         time.Time
	TotalSpent        float64
	InputTokens       int64
	OutputTokens      int64
	Plan              Plan
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	TrialUsed         bool
	AutoRenewal       bool
	WebSearchEnabled  bool
	CurrentAssistant  string
	ReferrerID        *int64
	InvitedUsers      int
	PaymentMethodID   string
	Email             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Unlimited reports whether the plan bypasses the daily token allowance.
func (u *User) Unlimited() bool {
	return u.Plan == PlanTrial || u.Plan == PlanMonth
}

// WebSearchAllowed derives the effective web-search permission: the stored
// flag never grants search to a free account, whatever the row says.
func (u *User) WebSearchAllowed() bool {
	return u.Plan != PlanFree && u.WebSearchEnabled
}

type ConversationMessage struct {
	ID        int64
	ChatID    int64
	Role      Role
	Content   string
	CreatedAt time.Time
}

type Assistant struct {
	Key    string
	Name   string
	Prompt string
}

type Payment struct {
	ID             int64
	UserID         int64
	Provider       string
	ProviderCharge string
	Currency       string
	Amount         int
	Status         string
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

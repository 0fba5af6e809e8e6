// Package domain contains core domain types for the assist gateway.
package domain

import "strings"

// UserInfo is what the client tells us about the person behind a thread.
// Empty fields mean "not provided".
type UserInfo struct {
	Name  string
	Email string
}

// Normalize trims surrounding whitespace from both fields.
func (u UserInfo) Normalize() UserInfo {
	return UserInfo{
		Name:  strings.TrimSpace(u.Name),
		Email: strings.TrimSpace(u.Email),
	}
}

// HasName returns true if a name was supplied.
func (u UserInfo) HasName() bool {
	return u.Name != ""
}

// HasEmail returns true if an email was supplied.
func (u UserInfo) HasEmail() bool {
	return u.Email != ""
}

// UserView is the JSON shape of UserInfo, with nulls for missing fields.
type UserView struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// View converts the user info into its JSON representation.
func (u UserInfo) View() UserView {
	return UserView{
		Name:  nullable(u.Name),
		Email: nullable(u.Email),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

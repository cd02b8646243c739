// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package discord

import (
	"fmt"
	"strconv"
	"strings"
)

// CDNBaseURL is the Discord media host.
const CDNBaseURL = "https://cdn.discordapp.com"

// AvatarURL returns the custom avatar of u, or its default avatar when
// none is set. Animated avatars (hash prefix a_) are served as gif.
func AvatarURL(u User) string {
	if u.Avatar == "" {
		return DefaultAvatarURL(u.ID, u.Discriminator)
	}
	ext := "png"
	if strings.HasPrefix(u.Avatar, "a_") {
		ext = "gif"
	}
	return fmt.Sprintf("%s/avatars/%s/%s.%s?size=256", CDNBaseURL, u.ID, u.Avatar, ext)
}

// DefaultAvatarURL returns one of Discord's stock avatars. Legacy accounts
// pick by discriminator modulo 5; migrated accounts (discriminator "0" or
// empty) pick by (id >> 22) modulo 6.
func DefaultAvatarURL(id, discriminator string) string {
	if discriminator != "" && discriminator != "0" {
		n, err := strconv.ParseUint(discriminator, 10, 64)
		if err != nil {
			return defaultAvatar(0)
		}
		return defaultAvatar(n % 5)
	}

	snowflake, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return defaultAvatar(0)
	}
	return defaultAvatar((snowflake >> 22) % 6)
}

func defaultAvatar(index uint64) string {
	return fmt.Sprintf("%s/embed/avatars/%d.png", CDNBaseURL, index)
}

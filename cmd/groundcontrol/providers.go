package main

// Notifier blank imports. Each import registers an alert provider by name.

import (
	_ "github.com/Strob0t/GroundControl/internal/adapter/discord"
	_ "github.com/Strob0t/GroundControl/internal/adapter/slack"
)

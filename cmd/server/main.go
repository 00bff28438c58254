package main

import "github.com/eleven-am/voice-intake/internal/bootstrap"

// @title Voice Intake API
// @version 1.0.0
// @description Control surface for the voice support-intake engine

// @BasePath /api/v1

func main() {
	bootstrap.Run()
}

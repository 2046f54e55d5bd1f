package main

import "linguachat-backend/internal/app"

func main() {
	app.Run()
}

package main

import "github.com/illmade-knight/iot-device-bridge/services-mvp/devicebridge/cmd"

func main() {
	cmd.Execute()
}

// Package config loads the syncot.toml configuration of the syncot command.
//
// # Configuration File Structure
//
//	[server]
//	address = ":8080"
//	path = "/sync"
//	metrics_path = "/metrics"
//	read_buffer = 4096
//	write_buffer = 4096
//	max_message_size = 4194304
//	stream_buffer = 1024
//	allowed_origins = ["https://app.example.com"]
//	shutdown_timeout = "10s"
//
//	[log]
//	level = "info"     # debug, info, warn, error, disabled
//	format = "json"    # json or console
//
//	[objects]
//	enabled = true
//	bucket = "documents"
//	prefix = "syncot/"
//	region = "eu-west-1"
//	endpoint = "http://localhost:9000"
//	path_style = true
//
// Values missing from the file keep the defaults of New. Unknown keys are an
// error so typos do not go unnoticed.
package config

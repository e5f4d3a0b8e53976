// Command sai-pipeline boots the pipeline service.
//
// Usage:
//
//	sai-pipeline run --config config.yml
//	sai-pipeline run --framework chi --port 9000
//	sai-pipeline routes
//	sai-pipeline version
package main

func main() {
	Execute()
}

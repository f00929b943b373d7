// Package config provides configuration management for suitectl.
//
// Configuration is loaded and merged in the following order, later layers
// overriding earlier ones:
//
//  1. Default configuration (embedded in binary): a backend and a frontend
//     service plus the unit, integration, functional, browser and e2e profiles
//  2. User configuration (~/.config/suitectl/config.yaml)
//  3. Project configuration (./.suitectl/config.yaml)
//  4. An explicit file passed with --config (YAML, or TOML when it ends in .toml)
//
// Services and profiles are merged by name. Durations are Go duration strings.
//
//	settings:
//	  stabilizationDelay: 5s
//	services:
//	  - name: backend
//	    command: ["python", "-m", "uvicorn", "api.main:app", "--port", "5003"]
//	    port: 5003
//	    healthURL: http://127.0.0.1:5003/api/health
//	    startupTimeout: 30s
//	profiles:
//	  - name: smoke
//	    services: [backend]
//	    command: ["python", "-m", "pytest", "tests/smoke"]
//	    timeout: 2m
package config

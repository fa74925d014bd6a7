// Package config provides configuration loading for assetpipe projects.
//
// The configuration is optional. When present it is stored in
// assetpipe.json (or assetpipe.yaml) in the project directory; every
// field has a default matching the conventional src/ → dist/ layout.
// A .env file next to it is loaded first and ASSETPIPE_* variables
// override the file.
//
// # Configuration File Structure
//
//	{
//	  "source": "src",
//	  "dest": "dist",
//	  "paths": {
//	    "styles":  {"source": "src/scss/**/*.scss", "dest": "dist/css"},
//	    "markup":  {"source": "src/*.html",         "dest": "dist"},
//	    "scripts": {"source": "src/js/*.js",        "dest": "dist/js"},
//	    "images":  {"source": "src/images/*",       "dest": "dist/images"},
//	    "video":   {"source": "src/video/*",        "dest": "dist/video"}
//	  },
//	  "styles":  {"browsers": ["chrome58", "ie11", "safari10"], "sourceMaps": true},
//	  "scripts": {"entry": "src/js/application.js", "output": "application.min.js", "target": "es2015"},
//	  "images":  {"jpegQuality": 80, "pngQuality": {"min": 0.65, "max": 0.8}},
//	  "dev":     {"host": "localhost", "port": 3000, "openBrowser": true, "delay": "200ms"},
//	  "notify":  {"desktop": true},
//	  "publish": {"bucket": "my-site", "prefix": "assets/", "region": "eu-west-1"}
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Styles:", cfg.Path(config.KindStyles).Source)
package config

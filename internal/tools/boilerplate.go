package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Boilerplate is a starter file set
type Boilerplate struct {
	Name        string
	Description string
	// DevCommand starts the app; suggested to the model, never run implicitly
	DevCommand string
	Files      map[string]string
}

var boilerplates = map[string]Boilerplate{
	"static": {
		Name:        "static",
		Description: "Plain HTML, CSS and JavaScript served by a static file server",
		DevCommand:  "python3 -m http.server $PORT",
		Files: map[string]string{
			"index.html": `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>App</title>
    <link rel="stylesheet" href="style.css" />
  </head>
  <body>
    <main id="app"><h1>Hello!</h1></main>
    <script src="main.js"></script>
  </body>
</html>
`,
			"style.css": `body {
  font-family: system-ui, sans-serif;
  margin: 0;
  padding: 2rem;
}
`,
			"main.js": `document.querySelector("#app h1").textContent = "Hello from main.js";
`,
		},
	},
	"react-vite": {
		Name:        "react-vite",
		Description: "React single-page app built with Vite",
		DevCommand:  "npm install && npm run dev",
		Files: map[string]string{
			"package.json": `{
  "name": "app",
  "private": true,
  "version": "0.0.0",
  "type": "module",
  "scripts": {
    "dev": "vite --host 0.0.0.0 --port ${PORT:-5173}",
    "build": "vite build",
    "preview": "vite preview"
  },
  "dependencies": {
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@vitejs/plugin-react": "^4.3.1",
    "vite": "^5.4.0"
  }
}
`,
			"vite.config.js": `import { defineConfig } from "vite";
import react from "@vitejs/plugin-react";

export default defineConfig({
  plugins: [react()],
});
`,
			"index.html": `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>App</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`,
			"src/main.jsx": `import React from "react";
import ReactDOM from "react-dom/client";
import App from "./App.jsx";

ReactDOM.createRoot(document.getElementById("root")).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>
);
`,
			"src/App.jsx": `import { useState } from "react";

export default function App() {
  const [count, setCount] = useState(0);
  return (
    <main>
      <h1>Hello!</h1>
      <button onClick={() => setCount(count + 1)}>Clicked {count} times</button>
    </main>
  );
}
`,
		},
	},
	"flask": {
		Name:        "flask",
		Description: "Python Flask web app with Jinja templates",
		DevCommand:  "pip install -r requirements.txt && python3 app.py",
		Files: map[string]string{
			"requirements.txt": "flask>=3.0\n",
			"app.py": `import os

from flask import Flask, render_template

app = Flask(__name__)


@app.route("/")
def index():
    return render_template("index.html")


if __name__ == "__main__":
    app.run(host="0.0.0.0", port=int(os.environ.get("PORT", 5173)), debug=True)
`,
			"templates/index.html": `<!doctype html>
<html lang="en">
  <head><meta charset="utf-8" /><title>App</title></head>
  <body><h1>Hello from Flask!</h1></body>
</html>
`,
		},
	},
	"express": {
		Name:        "express",
		Description: "Node.js Express server with a static public directory",
		DevCommand:  "npm install && node server.js",
		Files: map[string]string{
			"package.json": `{
  "name": "app",
  "private": true,
  "version": "0.0.0",
  "main": "server.js",
  "scripts": {
    "start": "node server.js"
  },
  "dependencies": {
    "express": "^4.19.2"
  }
}
`,
			"server.js": `const express = require("express");

const app = express();
const port = process.env.PORT || 5173;

app.use(express.static("public"));

app.get("/api/health", (req, res) => res.json({ status: "ok" }));

app.listen(port, "0.0.0.0", () => console.log("listening on " + port));
`,
			"public/index.html": `<!doctype html>
<html lang="en">
  <head><meta charset="utf-8" /><title>App</title></head>
  <body><h1>Hello from Express!</h1></body>
</html>
`,
		},
	},
}

// Boilerplates lists the available template names
func Boilerplates() []string {
	names := make([]string, 0, len(boilerplates))
	for name := range boilerplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) createBoilerplate(ctx context.Context, scope Scope, call Call) *Result {
	name, err := requireString(call.Args, "template")
	if err != nil {
		return failed(call, err)
	}
	bp, ok := boilerplates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return failed(call, argError("unknown template %q (available: %s)", name, strings.Join(Boilerplates(), ", ")))
	}

	paths := make([]string, 0, len(bp.Files))
	for p := range bp.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	files := make(map[string]interface{}, len(paths))
	var failures []string
	for _, p := range paths {
		out, err := d.storeFile(ctx, scope, p, []byte(bp.Files[p]))
		if err != nil {
			files[p] = map[string]interface{}{"storage": outcomeError, "error": err.Error()}
			failures = append(failures, p)
			continue
		}
		files[p] = out.output()
	}

	output := map[string]interface{}{
		"template":    bp.Name,
		"files":       files,
		"dev_command": bp.DevCommand,
	}
	if len(failures) == len(paths) {
		res := failed(call, fmt.Errorf("no file of template %s could be written", bp.Name))
		res.Output = output
		return res
	}
	summary := fmt.Sprintf("Created %s boilerplate (%d files)", bp.Name, len(paths)-len(failures))
	if len(failures) > 0 {
		summary += fmt.Sprintf("; failed: %s", strings.Join(failures, ", "))
	}
	return completed(call, summary, output)
}

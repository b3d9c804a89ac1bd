package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCommand(t *testing.T) {
	long := []string{
		"npm run dev",
		"npm start",
		"npm run serve",
		"yarn dev",
		"pnpm dev",
		"bun run dev",
		"npx vite --host",
		"next dev",
		"vite",
		"serve -s dist",
		"python app.py",
		"python3 -u server.py",
		"python -m http.server 8000",
		"flask run --host 0.0.0.0",
		"uvicorn main:app --reload",
		"gunicorn app:app",
		"node server.js",
		"php -S 0.0.0.0:8000",
		"rails s",
		"go run .",
		"deno run --allow-net main.ts",
		"cd app && npm run dev",
		"PORT=3000 npm run dev",
		"sleep 100 &",
		"nohup ./server",
	}
	for _, cmd := range long {
		assert.Equal(t, CommandLong, ClassifyCommand(cmd), cmd)
	}

	short := []string{
		"",
		"ls -la",
		"npm install",
		"npm run build",
		"pip install -r requirements.txt",
		"python -c 'print(1)'",
		"python --version",
		"node --version",
		"cat package.json",
		"npm run dev && echo done; ls",
		"make && make test",
	}
	for _, cmd := range short {
		assert.Equal(t, CommandShort, ClassifyCommand(cmd), cmd)
	}
}

func TestBackgroundCommand(t *testing.T) {
	assert.Equal(t, "node server.js", backgroundCommand("node server.js &"))
	assert.Equal(t, "a && b", backgroundCommand("a && b"))
	assert.Equal(t, "npm run dev", backgroundCommand("  npm run dev "))
}

func TestCommandClassString(t *testing.T) {
	assert.Equal(t, "long", CommandLong.String())
	assert.Equal(t, "short", CommandShort.String())
}

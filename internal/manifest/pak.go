package manifest

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/moulars/moulars/internal/crypto"
	"github.com/moulars/moulars/internal/wireerr"
)

// compilePythonPak invokes the configured external interpreter once per
// .py file under Python/, concatenates the compiled output, and RC4-
// encrypts the result with the engine's pak key (§4.G: "compile .py under
// Python/ into a single encrypted .pak ... when the operator supplies an
// external Python interpreter path"). Runs on the actor goroutine, after
// the directory scan.
func (e *Engine) compilePythonPak(ctx context.Context) error {
	dir := filepath.Join(e.dataRoot, "Python")
	scripts, err := filepath.Glob(filepath.Join(dir, "*.py"))
	if err != nil {
		return wireerr.New(wireerr.KindIO, "manifest.compilePythonPak", err)
	}
	if len(scripts) == 0 {
		return nil
	}

	var combined bytes.Buffer
	for _, script := range scripts {
		// py_compile writes bytecode to __pycache__, not stdout, so print
		// the compiled file's bytes for Output to capture.
		cmd := exec.CommandContext(ctx, e.pythonInterpreter, "-c",
			"import py_compile, sys; sys.stdout.buffer.write(open(py_compile.compile(sys.argv[1], doraise=True), 'rb').read())",
			script)
		cmd.Dir = dir
		out, err := cmd.Output()
		if err != nil {
			return wireerr.New(wireerr.KindIO, "manifest.compilePythonPak", err)
		}
		combined.Write(out)
	}

	payload := combined.Bytes()
	if len(e.pakKey) > 0 {
		cipher, err := crypto.NewStreamCipher(e.pakKey)
		if err != nil {
			return wireerr.New(wireerr.KindIO, "manifest.compilePythonPak", err)
		}
		cipher.XOR(payload)
	}

	return os.WriteFile(filepath.Join(e.cacheDir, "Python.pak"), payload, 0o644)
}

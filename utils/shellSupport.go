package utils

import (
	"bytes"
	"io"
	"log"
	"os"
	"os/exec"
)

func ExecShell(name string, arg ...string) string {
	var stdoutBuf, stderrBuf bytes.Buffer
	co := exec.Command(name, arg...)
	stdoutIn, _ := co.StdoutPipe()
	stderrIn, _ := co.StderrPipe()
	var errStdout, errStderr error
	stdout := io.MultiWriter(os.Stdout, &stdoutBuf)
	stderr := io.MultiWriter(os.Stderr, &stderrBuf)
	_ = co.Start()
	go func() {
		_, errStdout = io.Copy(stdout, stdoutIn)
	}()
	go func() {
		_, errStderr = io.Copy(stderr, stderrIn)
	}()
	if errStderr != nil {
		log.Printf("%v", errStderr)
	}
	if errStdout != nil {
		log.Printf("%v", errStdout)
	}
	_ = co.Wait()
	outStr, errStr := string(stdoutBuf.Bytes()), string(stderrBuf.Bytes())
	return outStr + errStr
}

// ExecOutput runs a command and returns stdout only, for tools whose
// output must stay parseable (ffprobe json and the like).
func ExecOutput(name string, arg ...string) ([]byte, error) {
	co := exec.Command(name, arg...)
	co.Stderr = nil
	return co.Output()
}

package main

import (
	"errors"
	"log"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options 命令行根选项，子命令由 go-flags 解析后执行
type Options struct {
	Converse *ConverseCmd `command:"converse" description:"Run the voice agent with an audio file as microphone"`
	ASR      *ASRCmd      `command:"asr"      description:"Transcribe an audio file once"`
	TTS      *TTSCmd      `command:"tts"      description:"Synthesize text into an audio file"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[voicectl] no .env file, using process environment: %v", err)
	}

	opts := &Options{}
	parser := flags.NewParser(opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

package logger

// DualPrinter fans a log line out to a console printer and a file printer,
// each gated by its own level threshold independent of the owning Logger's
// level (which must stay permissive enough to let every line reach Print;
// see NewConsoleLogger's default of DEBUG).
type DualPrinter struct {
	Console      Printer
	ConsoleLevel Level
	File         Printer
	FileLevel    Level
}

func (d *DualPrinter) Print(level Level, msg string, fields Fields) {
	if d.Console != nil && level >= d.ConsoleLevel {
		d.Console.Print(level, msg, fields)
	}
	if d.File != nil && level >= d.FileLevel {
		d.File.Print(level, msg, fields)
	}
}
